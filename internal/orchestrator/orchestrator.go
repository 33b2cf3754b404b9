// Package orchestrator is the publish pipeline. It turns a selection of
// items (a user request, the due-item tick or a planned slot) into a lane
// batch, claims every item before it runs and records each outcome as soon
// as its job finishes.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/planner"
	"pubmatrix/internal/ports"
	"pubmatrix/internal/reconcile"
	"pubmatrix/internal/storage"
	"pubmatrix/internal/task/engine"
	logx "pubmatrix/pkg/logx"
)

// Deps are the collaborators of the pipeline. Sessions, Ingestor, Triggers
// and Planner are optional.
type Deps struct {
	Repo       storage.Repository
	Reconciler *reconcile.Reconciler
	Executor   *engine.Service
	Sessions   ports.SessionBackend
	Publisher  ports.Publisher
	Ingestor   ports.Ingestor
	Triggers   Triggers
	Planner    *planner.Planner
	Log        logx.Logger
	Bus        eventbus.Bus
}

type Orchestrator struct {
	repo     storage.Repository
	rec      *reconcile.Reconciler
	exec     *engine.Service
	sessions ports.SessionBackend
	pub      ports.Publisher
	ingest   ports.Ingestor
	triggers Triggers
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	mu        sync.Mutex
	planner   *planner.Planner
	onPending func()
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	sessions := d.Sessions
	if sessions == nil {
		sessions = ports.NopSessions{}
	}
	return &Orchestrator{
		repo:     d.Repo,
		rec:      d.Reconciler,
		exec:     d.Executor,
		sessions: sessions,
		pub:      d.Publisher,
		ingest:   d.Ingestor,
		triggers: d.Triggers,
		log:      log.With(logx.String("comp", "pipeline")),
		bus:      eventbus.OrNop(d.Bus),
		now:      time.Now,
		planner:  d.Planner,
	}
}

// SetClock replaces the time source. Tests only.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// SetPlanner swaps the planner on config reload. nil disables planning.
func (o *Orchestrator) SetPlanner(p *planner.Planner) {
	o.mu.Lock()
	o.planner = p
	o.mu.Unlock()
}

// OnPendingChanged registers fn to run after operations that add scheduled
// items, so the due check can retune its interval right away.
func (o *Orchestrator) OnPendingChanged(fn func()) {
	o.mu.Lock()
	o.onPending = fn
	o.mu.Unlock()
}

func (o *Orchestrator) pendingChanged() {
	o.mu.Lock()
	fn := o.onPending
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (o *Orchestrator) currentPlanner() *planner.Planner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.planner
}

// Stranded lists items left holding a claim by an earlier process.
func (o *Orchestrator) Stranded(ctx context.Context) ([]domain.ContentItem, error) {
	return o.rec.Recover(ctx)
}

// Resolve settles one stranded item on an operator's word.
func (o *Orchestrator) Resolve(ctx context.Context, id int64, res reconcile.Resolution, message string) (domain.ContentItem, error) {
	item, err := o.rec.Resolve(ctx, id, res, message)
	if err == nil && res == reconcile.ResolveRequeue && item.ScheduleStatus == domain.ScheduleScheduled {
		o.pendingChanged()
	}
	return item, err
}
