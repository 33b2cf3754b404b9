package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
)

// Memory is a process-local Repository. It keeps the same conditional
// update semantics as the SQL store.
type Memory struct {
	mu       sync.Mutex
	items    map[int64]domain.ContentItem
	accounts map[int64]domain.Account
	nextItem int64
	nextAcc  int64
	now      func() time.Time

	// FailWrites makes every write return the given error. Tests use it to
	// simulate an unavailable store.
	FailWrites error
}

func NewMemory() *Memory {
	return &Memory{
		items:    map[int64]domain.ContentItem{},
		accounts: map[int64]domain.Account{},
		now:      time.Now,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) selectItems(keep func(domain.ContentItem) bool) []domain.ContentItem {
	out := make([]domain.ContentItem, 0, len(m.items))
	for _, it := range m.items {
		if keep(it) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ListDue(_ context.Context, status domain.Status, sched domain.ScheduleStatus, before time.Time) ([]domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.selectItems(func(it domain.ContentItem) bool {
		return it.Status == status && it.ScheduleStatus == sched && it.ScheduleTime != nil && !it.ScheduleTime.After(before)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduleTime.Before(*out[j].ScheduleTime) })
	return out, nil
}

func (m *Memory) ListByStatus(_ context.Context, status domain.Status) ([]domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectItems(func(it domain.ContentItem) bool { return it.Status == status }), nil
}

func (m *Memory) ListStranded(_ context.Context) ([]domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectItems(domain.ContentItem.Stranded), nil
}

func (m *Memory) CountPending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Status == domain.StatusScheduled && it.ScheduleStatus == domain.ScheduleScheduled {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetItem(_ context.Context, id int64) (domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return domain.ContentItem{}, errors.Wrapf(ErrNotFound, "item %d", id)
	}
	return cloneItem(it), nil
}

func (m *Memory) CreateItem(_ context.Context, it domain.ContentItem) (domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return it, m.FailWrites
	}
	if it.SourceRef != "" {
		for _, cur := range m.items {
			if cur.SourceRef == it.SourceRef {
				return it, errors.Newf("duplicate source_ref %q", it.SourceRef)
			}
		}
	}
	it = normalizeNewItem(it, m.now())
	if it.ID == 0 {
		m.nextItem++
		it.ID = m.nextItem
	} else if it.ID > m.nextItem {
		m.nextItem = it.ID
	}
	m.items[it.ID] = cloneItem(it)
	return it, nil
}

func (m *Memory) UpdateItem(_ context.Context, id int64, expect domain.State, next domain.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	cur, ok := m.items[id]
	if !ok || cur.State() != expect {
		return errors.Wrapf(ErrConflict, "item %d is no longer %s", id, expect)
	}
	cur.Status = next.Status
	cur.PublishStatus = next.PublishStatus
	cur.ScheduleTime = clonePtr(next.ScheduleTime)
	cur.ScheduleStatus = next.ScheduleStatus
	cur.ErrorMessage = next.ErrorMessage
	cur.PublishTime = clonePtr(next.PublishTime)
	cur.UpdatedAt = next.UpdatedAt
	if cur.UpdatedAt.IsZero() {
		cur.UpdatedAt = m.now()
	}
	m.items[id] = cur
	return nil
}

func (m *Memory) ListAccounts(_ context.Context, f AccountFilter) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, a.ID) {
			continue
		}
		a.CheckedAt = clonePtr(a.CheckedAt)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetAccount(_ context.Context, id int64) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, errors.Wrapf(ErrNotFound, "account %d", id)
	}
	a.CheckedAt = clonePtr(a.CheckedAt)
	return a, nil
}

func (m *Memory) CreateAccount(_ context.Context, a domain.Account) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return a, m.FailWrites
	}
	if a.Status == "" {
		a.Status = domain.AccountActive
	}
	if a.ID == 0 {
		m.nextAcc++
		a.ID = m.nextAcc
	} else if a.ID > m.nextAcc {
		m.nextAcc = a.ID
	}
	m.accounts[a.ID] = a
	return a, nil
}

func (m *Memory) UpdateAccount(_ context.Context, id int64, upd AccountUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	a, ok := m.accounts[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "account %d", id)
	}
	if upd.CanLogin != nil {
		a.CanLogin = *upd.CanLogin
	}
	if upd.CheckedAt != nil {
		a.CheckedAt = clonePtr(upd.CheckedAt)
	}
	if upd.Status != nil {
		a.Status = *upd.Status
	}
	m.accounts[id] = a
	return nil
}

func cloneItem(it domain.ContentItem) domain.ContentItem {
	it.ScheduleTime = clonePtr(it.ScheduleTime)
	it.PublishTime = clonePtr(it.PublishTime)
	it.AccountID = clonePtr(it.AccountID)
	return it
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
