// Package reconcile applies content item state transitions against the
// repository.
//
// Every write is a conditional update on the item's current state, so two
// passes racing for the same item cannot both claim it: the loser gets
// storage.ErrConflict. Outcome writes that fail for any other reason are
// kept in memory and retried by Flush, which the trigger calls at the start
// of each tick.
package reconcile

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/storage"
	logx "pubmatrix/pkg/logx"
)

// ErrClaimed is returned by Claim when another pass owns the item.
var ErrClaimed = errors.New("item already claimed")

type Resolution string

const (
	ResolveSucceeded Resolution = "succeeded"
	ResolveFailed    Resolution = "failed"
	ResolveRequeue   Resolution = "requeue"
)

func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case ResolveSucceeded, ResolveFailed, ResolveRequeue:
		return r, nil
	default:
		return "", errors.Newf("unknown resolution %q (want succeeded, failed or requeue)", s)
	}
}

type pendingWrite struct {
	ev       domain.Event
	since    time.Time
	attempts int
	lastErr  error
}

type Reconciler struct {
	repo storage.Repository
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	mu      sync.Mutex
	pending map[int64]*pendingWrite
}

func New(repo storage.Repository, log logx.Logger, bus eventbus.Bus) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{
		repo:    repo,
		log:     log.With(logx.String("comp", "reconcile")),
		bus:     eventbus.OrNop(bus),
		now:     time.Now,
		pending: map[int64]*pendingWrite{},
	}
}

// SetClock replaces the time source. Tests only.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Apply loads the item, runs the transition and persists it guarded on the
// state it was loaded in.
func (r *Reconciler) Apply(ctx context.Context, id int64, ev domain.Event) (domain.ContentItem, error) {
	item, err := r.repo.GetItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, err
	}
	return r.commit(ctx, item, ev)
}

// Claim moves an already-loaded item into its Processing state. kind is
// EventRequestPublish for direct batches and EventTriggerDue for scheduled
// ones. A lost race returns ErrClaimed.
func (r *Reconciler) Claim(ctx context.Context, item domain.ContentItem, kind domain.EventKind) (domain.ContentItem, error) {
	next, err := r.commit(ctx, item, domain.Event{Kind: kind})
	if errors.Is(err, storage.ErrConflict) {
		return item, errors.Mark(errors.Wrapf(err, "claim item %d", item.ID), ErrClaimed)
	}
	return next, err
}

func (r *Reconciler) commit(ctx context.Context, item domain.ContentItem, ev domain.Event) (domain.ContentItem, error) {
	next, err := domain.Transition(item, ev, r.now())
	if err != nil {
		return item, err
	}
	if err := r.repo.UpdateItem(ctx, item.ID, item.State(), next); err != nil {
		return item, err
	}
	r.log.Debug("reconcile.applied",
		logx.Int64("item", item.ID),
		logx.String("event", string(ev.Kind)),
		logx.String("from", item.State().String()),
		logx.String("to", next.State().String()),
	)
	return next, nil
}

// Record writes the terminal outcome of a claimed item. If the store is
// unavailable the write is parked and retried by Flush; the item stays in
// its Processing state meanwhile.
func (r *Reconciler) Record(ctx context.Context, id int64, success bool, message string) error {
	ev := domain.Event{Kind: domain.EventFailed, Message: message}
	if success {
		ev = domain.Event{Kind: domain.EventSucceeded, Message: message}
	}
	err := r.record(ctx, id, ev)
	if err == nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil
	}
	if !retryable(err) {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		r.log.Warn("reconcile.outcome_dropped", logx.Int64("item", id), logx.Bool("success", success), logx.Err(err))
		return err
	}

	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		p = &pendingWrite{since: r.now()}
		r.pending[id] = p
	}
	p.ev = ev
	p.attempts++
	p.lastErr = err
	attempts := p.attempts
	r.mu.Unlock()

	r.log.Warn("reconcile.outcome_deferred", logx.Int64("item", id), logx.Int("attempts", attempts), logx.Err(err))
	return err
}

func (r *Reconciler) record(ctx context.Context, id int64, ev domain.Event) error {
	_, err := r.Apply(ctx, id, ev)
	return err
}

// retryable reports whether a failed write may succeed later without any
// state change. Conflicts and undefined transitions mean someone else
// already moved the item.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsAny(err, storage.ErrConflict, storage.ErrNotFound, domain.ErrUndefinedTransition) {
		return false
	}
	return !errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// Flush retries parked outcome writes. It returns how many are still
// parked.
func (r *Reconciler) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return r.Pending(), err
		}
		r.mu.Lock()
		p, ok := r.pending[id]
		var ev domain.Event
		if ok {
			ev = p.ev
		}
		r.mu.Unlock()
		if !ok {
			continue
		}
		err := r.Record(ctx, id, ev.Kind == domain.EventSucceeded, ev.Message)
		if err != nil && retryable(err) && firstErr == nil {
			firstErr = err
		}
		if err == nil {
			r.log.Info("reconcile.outcome_flushed", logx.Int64("item", id))
		}
	}
	return r.Pending(), firstErr
}

// Pending counts parked outcome writes.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// IsPending reports whether an outcome for id is parked. Recover uses it to
// tell a stranded claim from one whose outcome is known but unwritten.
func (r *Reconciler) IsPending(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Recover lists items holding a claim marker and reports each of them. It
// never modifies anything: only Resolve moves a stranded item.
func (r *Reconciler) Recover(ctx context.Context) ([]domain.ContentItem, error) {
	items, err := r.repo.ListStranded(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list stranded items")
	}
	out := items[:0]
	for _, it := range items {
		if r.IsPending(it.ID) {
			continue
		}
		out = append(out, it)
		r.log.Warn("reconcile.stranded",
			logx.Int64("item", it.ID),
			logx.String("title", it.Title),
			logx.String("state", it.State().String()),
			logx.Time("since", it.UpdatedAt),
		)
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeStranded,
			Time: r.now(),
			Data: eventbus.StrandedEvent{ItemID: it.ID, Title: it.Title, State: it.State().String(), UpdatedAt: it.UpdatedAt},
		})
	}
	if len(out) > 0 {
		r.log.Warn("stranded items need manual resolution", logx.Int("count", len(out)))
	}
	return out, nil
}

// Resolve is the explicit operator signal for a stranded item.
func (r *Reconciler) Resolve(ctx context.Context, id int64, res Resolution, message string) (domain.ContentItem, error) {
	item, err := r.repo.GetItem(ctx, id)
	if err != nil {
		return domain.ContentItem{}, err
	}
	if !item.Stranded() {
		return item, errors.WithHint(
			errors.Newf("item %d is %s, not stranded", id, item.State()),
			"only items left in a processing state can be resolved",
		)
	}
	if r.IsPending(id) {
		return item, errors.Newf("item %d has an outcome waiting to be written", id)
	}
	var ev domain.Event
	switch res {
	case ResolveSucceeded, ResolveFailed:
		if strings.TrimSpace(message) == "" {
			message = "resolved manually"
		}
		ev = domain.Event{Kind: domain.EventFailed, Message: message}
		if res == ResolveSucceeded {
			ev.Kind = domain.EventSucceeded
		}
	case ResolveRequeue:
		ev = domain.Event{Kind: domain.EventRequeue}
	default:
		return item, errors.Newf("unknown resolution %q", res)
	}
	next, err := r.commit(ctx, item, ev)
	if err != nil {
		return item, err
	}
	r.log.Info("reconcile.resolved", logx.Int64("item", id), logx.String("as", string(res)), logx.String("state", next.State().String()))
	return next, nil
}
