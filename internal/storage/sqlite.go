package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	itemsTable    = "content_items"
	accountsTable = "accounts"
)

var itemColumns = []string{
	"id", "title", "source_ref", "status", "publish_status", "schedule_time",
	"schedule_status", "account_id", "error_message", "publish_time", "created_at", "updated_at",
}

var accountColumns = []string{"id", "name", "lane_id", "platform_type", "status", "can_login", "checked_at"}

type sqlRepo struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

// NewSQL wraps an already opened database. The schema must exist.
func NewSQL(db *sql.DB, log logx.Logger) Repository {
	return &sqlRepo{db: db, log: log, now: time.Now}
}

func openSQLite(cfg Config, log logx.Logger) (Repository, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer; conditional updates rely on statement-level atomicity
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), string(b)); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return &sqlRepo{db: db, log: log, now: time.Now}, nil
}

func (r *sqlRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *sqlRepo) ListDue(ctx context.Context, status domain.Status, sched domain.ScheduleStatus, before time.Time) ([]domain.ContentItem, error) {
	q := sq.Select(itemColumns...).From(itemsTable).
		Where(sq.Eq{"status": string(status), "schedule_status": string(sched)}).
		Where(sq.NotEq{"schedule_time": nil}).
		Where(sq.LtOrEq{"schedule_time": before.UnixMilli()}).
		OrderBy("schedule_time", "id")
	return r.queryItems(ctx, q, "list due")
}

func (r *sqlRepo) ListByStatus(ctx context.Context, status domain.Status) ([]domain.ContentItem, error) {
	q := sq.Select(itemColumns...).From(itemsTable).
		Where(sq.Eq{"status": string(status)}).
		OrderBy("id")
	return r.queryItems(ctx, q, "list by status")
}

func (r *sqlRepo) ListStranded(ctx context.Context) ([]domain.ContentItem, error) {
	q := sq.Select(itemColumns...).From(itemsTable).
		Where(sq.Or{
			sq.Eq{"status": string(domain.StatusProcessing)},
			sq.Eq{"schedule_status": string(domain.ScheduleProcessing)},
		}).
		OrderBy("id")
	return r.queryItems(ctx, q, "list stranded")
}

func (r *sqlRepo) CountPending(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From(itemsTable).
		Where(sq.Eq{"status": string(domain.StatusScheduled), "schedule_status": string(domain.ScheduleScheduled)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count pending")
	}
	return n, nil
}

func (r *sqlRepo) GetItem(ctx context.Context, id int64) (domain.ContentItem, error) {
	items, err := r.queryItems(ctx, sq.Select(itemColumns...).From(itemsTable).Where(sq.Eq{"id": id}), "get item")
	if err != nil {
		return domain.ContentItem{}, err
	}
	if len(items) == 0 {
		return domain.ContentItem{}, errors.Wrapf(ErrNotFound, "item %d", id)
	}
	return items[0], nil
}

func (r *sqlRepo) CreateItem(ctx context.Context, it domain.ContentItem) (domain.ContentItem, error) {
	now := r.now()
	it = normalizeNewItem(it, now)
	query, args, err := sq.Insert(itemsTable).
		Columns(itemColumns[1:]...).
		Values(it.Title, it.SourceRef, string(it.Status), string(it.PublishStatus), msPtr(it.ScheduleTime),
			string(it.ScheduleStatus), it.AccountID, it.ErrorMessage, msPtr(it.PublishTime),
			it.CreatedAt.UnixMilli(), it.UpdatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return it, err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return it, errors.Wrap(err, "insert item")
	}
	if it.ID, err = res.LastInsertId(); err != nil {
		return it, errors.Wrap(err, "insert item id")
	}
	return it, nil
}

func (r *sqlRepo) UpdateItem(ctx context.Context, id int64, expect domain.State, next domain.ContentItem) error {
	updated := next.UpdatedAt
	if updated.IsZero() {
		updated = r.now()
	}
	query, args, err := sq.Update(itemsTable).
		SetMap(map[string]interface{}{
			"status":          string(next.Status),
			"publish_status":  string(next.PublishStatus),
			"schedule_time":   msPtr(next.ScheduleTime),
			"schedule_status": string(next.ScheduleStatus),
			"error_message":   next.ErrorMessage,
			"publish_time":    msPtr(next.PublishTime),
			"updated_at":      updated.UnixMilli(),
		}).
		Where(sq.Eq{"id": id, "status": string(expect.Status), "schedule_status": string(expect.Schedule)}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update item %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "update item %d", id)
	}
	if n == 0 {
		return errors.Wrapf(ErrConflict, "item %d is no longer %s", id, expect)
	}
	return nil
}

func (r *sqlRepo) ListAccounts(ctx context.Context, f AccountFilter) ([]domain.Account, error) {
	q := sq.Select(accountColumns...).From(accountsTable).OrderBy("id")
	if f.Status != nil {
		q = q.Where(sq.Eq{"status": string(*f.Status)})
	}
	if len(f.IDs) > 0 {
		q = q.Where(sq.Eq{"id": f.IDs})
	}
	return r.queryAccounts(ctx, q)
}

func (r *sqlRepo) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	accs, err := r.queryAccounts(ctx, sq.Select(accountColumns...).From(accountsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Account{}, err
	}
	if len(accs) == 0 {
		return domain.Account{}, errors.Wrapf(ErrNotFound, "account %d", id)
	}
	return accs[0], nil
}

func (r *sqlRepo) CreateAccount(ctx context.Context, a domain.Account) (domain.Account, error) {
	if a.Status == "" {
		a.Status = domain.AccountActive
	}
	query, args, err := sq.Insert(accountsTable).
		Columns(accountColumns[1:]...).
		Values(a.Name, a.LaneID, a.PlatformType, string(a.Status), a.CanLogin, msPtr(a.CheckedAt)).
		ToSql()
	if err != nil {
		return a, err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return a, errors.Wrap(err, "insert account")
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return a, errors.Wrap(err, "insert account id")
	}
	return a, nil
}

func (r *sqlRepo) UpdateAccount(ctx context.Context, id int64, upd AccountUpdate) error {
	set := map[string]interface{}{}
	if upd.CanLogin != nil {
		set["can_login"] = *upd.CanLogin
	}
	if upd.CheckedAt != nil {
		set["checked_at"] = upd.CheckedAt.UnixMilli()
	}
	if upd.Status != nil {
		set["status"] = string(*upd.Status)
	}
	if len(set) == 0 {
		return nil
	}
	query, args, err := sq.Update(accountsTable).SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update account %d", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "account %d", id)
	}
	return nil
}

func (r *sqlRepo) queryItems(ctx context.Context, b sq.SelectBuilder, op string) ([]domain.ContentItem, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer rows.Close()

	var out []domain.ContentItem
	for rows.Next() {
		var (
			it                         domain.ContentItem
			status, pubStatus, schStat string
			schedTime, pubTime         sql.NullInt64
			accountID                  sql.NullInt64
			created, updated           int64
		)
		if err := rows.Scan(&it.ID, &it.Title, &it.SourceRef, &status, &pubStatus, &schedTime,
			&schStat, &accountID, &it.ErrorMessage, &pubTime, &created, &updated); err != nil {
			return nil, errors.Wrap(err, op)
		}
		it.Status = domain.Status(status)
		it.PublishStatus = domain.PublishStatus(pubStatus)
		it.ScheduleStatus = domain.ScheduleStatus(schStat)
		it.ScheduleTime = timePtr(schedTime)
		it.PublishTime = timePtr(pubTime)
		if accountID.Valid {
			it.AccountID = domain.Ptr(accountID.Int64)
		}
		it.CreatedAt = time.UnixMilli(created)
		it.UpdatedAt = time.UnixMilli(updated)
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), op)
}

func (r *sqlRepo) queryAccounts(ctx context.Context, b sq.SelectBuilder) ([]domain.Account, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var (
			a       domain.Account
			status  string
			checked sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.LaneID, &a.PlatformType, &status, &a.CanLogin, &checked); err != nil {
			return nil, errors.Wrap(err, "scan account")
		}
		a.Status = domain.AccountStatus(status)
		a.CheckedAt = timePtr(checked)
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "list accounts")
}

func normalizeNewItem(it domain.ContentItem, now time.Time) domain.ContentItem {
	if it.Status == "" {
		it.Status = domain.StatusUnpublished
	}
	if it.PublishStatus == "" {
		it.PublishStatus = domain.PublishNone
	}
	if it.ScheduleStatus == "" {
		it.ScheduleStatus = domain.ScheduleNone
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now
	return it
}

func msPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
