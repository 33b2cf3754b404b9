package storage

import (
	"context"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row no longer matched the expected state.
	ErrConflict = errors.New("write conflict")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
//   - "memory": non-durable, for tests and dry runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type AccountFilter struct {
	Status *domain.AccountStatus
	IDs    []int64
}

// AccountUpdate holds the mutable account fields. Nil means unchanged.
type AccountUpdate struct {
	CanLogin  *bool
	CheckedAt *time.Time
	Status    *domain.AccountStatus
}

type Repository interface {
	// ListDue returns items in (status, sched) whose schedule time is at or
	// before the given instant, oldest first.
	ListDue(ctx context.Context, status domain.Status, sched domain.ScheduleStatus, before time.Time) ([]domain.ContentItem, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.ContentItem, error)
	// ListStranded returns items carrying a claim marker.
	ListStranded(ctx context.Context) ([]domain.ContentItem, error)
	// CountPending counts items waiting for a scheduled publish, due or not.
	CountPending(ctx context.Context) (int, error)
	GetItem(ctx context.Context, id int64) (domain.ContentItem, error)
	CreateItem(ctx context.Context, item domain.ContentItem) (domain.ContentItem, error)
	// UpdateItem writes the mutable fields of next if the stored item is
	// still in expect. Returns ErrConflict otherwise.
	UpdateItem(ctx context.Context, id int64, expect domain.State, next domain.ContentItem) error

	ListAccounts(ctx context.Context, f AccountFilter) ([]domain.Account, error)
	GetAccount(ctx context.Context, id int64) (domain.Account, error)
	CreateAccount(ctx context.Context, a domain.Account) (domain.Account, error)
	UpdateAccount(ctx context.Context, id int64, upd AccountUpdate) error

	Close() error
}
