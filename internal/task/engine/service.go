package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/lane"
	rtsup "pubmatrix/internal/runtime/supervisor"
	logx "pubmatrix/pkg/logx"
)

// Service is the lane executor. Jobs sharing a lane run strictly one after
// another; distinct lanes run in parallel, at most MaxLanes at a time.
// Waiting lanes are admitted in FIFO order.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	slots *laneGate
	lanes laneLocks

	active atomic.Int32

	sup *rtsup.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "executor")),
		bus:   eventbus.OrNop(bus),
		now:   time.Now,
		slots: newLaneGate(cfg.MaxLanes),
	}
}

// Apply swaps the configuration. Running lanes keep their slot; after a
// shrink no lane is admitted until fewer than MaxLanes are running.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.MaxLanes != s.cfg.MaxLanes {
		s.slots.resize(cfg.MaxLanes)
	}
	s.cfg = cfg
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.log.Info("lane executor started", logx.Int("max_lanes", s.cfg.MaxLanes), logx.Duration("job_timeout", s.cfg.JobTimeout))
}

// Stop cancels running jobs and waits for their goroutines until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("lane executor stopped")
	return err
}

// Run executes every queue of b and returns once all lanes are done. It
// never fails because of a single job; per-job problems are in the report.
func (s *Service) Run(ctx context.Context, b Batch) (Report, error) {
	s.mu.Lock()
	sup, cfg := s.sup, s.cfg
	s.mu.Unlock()
	if sup == nil {
		return Report{}, ErrStopped
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	rep := Report{BatchID: b.ID, Kind: b.Kind, StartedAt: s.now()}
	log := s.log.With(logx.String("batch_id", rep.BatchID), logx.String("kind", b.Kind))
	log.Debug("batch.started", logx.Int("lanes", len(b.Queues)))

	// jobs must also stop when the executor stops
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(sup.Context(), cancel)
	defer stopWatch()

	var (
		rmu     sync.Mutex
		results = make([]Result, 0, 8)
		g       errgroup.Group
	)
	for _, q := range b.Queues {
		g.Go(func() error {
			var res []Result
			err := rtsup.Call(func() error {
				s.runLane(ctx, sup, cfg, rep.BatchID, b, q, log, &res)
				return nil
			})
			if err != nil {
				// a panic outside a job (OnResult, bookkeeping) aborts this lane only
				log.Error("lane.panic", logx.String("lane", q.LaneID), logx.Err(err))
				res = abortRemaining(q.Jobs, res, fmt.Sprintf("lane aborted: %v", err))
			}
			rmu.Lock()
			results = append(results, res...)
			rmu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Job.Index < results[j].Job.Index })
	rep.Results = results
	rep.FinishedAt = s.now()
	log.Info("batch.finished",
		logx.Int("jobs", len(results)),
		logx.Int("ok", rep.Succeeded()),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}

// runLane appends to *out as it goes so a panic keeps the finished results.
func (s *Service) runLane(ctx context.Context, sup *rtsup.Supervisor, cfg Config, batchID string, b Batch, q lane.Queue, log logx.Logger, out *[]Result) {
	emit := func(r Result) {
		*out = append(*out, r)
		s.record(batchID, b.Kind, r)
		if b.OnResult != nil {
			b.OnResult(r)
		}
	}

	lock := s.lanes.get(q.LaneID)
	if err := lock.acquire(ctx); err != nil {
		for _, j := range q.Jobs {
			emit(canceled(j, s.now(), "lane wait canceled"))
		}
		return
	}
	defer lock.release()

	if err := s.slots.acquire(ctx); err != nil {
		for _, j := range q.Jobs {
			emit(canceled(j, s.now(), "lane slot wait canceled"))
		}
		return
	}
	defer s.slots.release()

	s.active.Add(1)
	defer s.active.Add(-1)
	log.Debug("lane.started", logx.String("lane", q.LaneID), logx.Int("jobs", len(q.Jobs)))

	for _, j := range q.Jobs {
		if ctx.Err() != nil {
			emit(canceled(j, s.now(), "batch canceled before start"))
			continue
		}
		emit(s.runJob(ctx, sup, cfg, batchID, b, j, log))
	}
}

type jobDone struct {
	out domain.Outcome
	err error
}

func (s *Service) runJob(ctx context.Context, sup *rtsup.Supervisor, cfg Config, batchID string, b Batch, j lane.Job, log logx.Logger) Result {
	started := s.now()
	jlog := log.With(logx.String("lane", j.LaneID), logx.String("job", j.String()))
	jlog.Debug("lane.job.started")

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hold := &lease{}
	jobCtx = context.WithValue(jobCtx, leaseKey{}, hold)

	done := make(chan jobDone, 1) // buffered: an abandoned job must not block
	sup.Go0("job:"+j.String(), func(context.Context) {
		var d jobDone
		d.err = rtsup.Call(func() error {
			var err error
			d.out, err = b.Run(jobCtx, j)
			return err
		})
		done <- d
	})

	timer := time.NewTimer(cfg.JobTimeout)
	defer timer.Stop()

	res := Result{Job: j, StartedAt: started}
	select {
	case d := <-done:
		res.Duration = s.now().Sub(started)
		switch {
		case d.err != nil && ctx.Err() != nil:
			res.Canceled = true
			res.Err = d.err
			res.Message = "canceled while running; final state unknown"
		case d.err != nil:
			res.Err = d.err
			res.Message = d.err.Error()
			var pe *rtsup.PanicError
			if errors.As(d.err, &pe) {
				jlog.Error("lane.job.panic", logx.Any("panic", pe.Value), logx.Stack(pe.Stack))
			}
		case d.out.Success:
			res.Success = true
			res.Message = d.out.Message
		default:
			res.Message = d.out.Message
			if res.Message == "" {
				res.Message = "publish failed"
			}
		}
		jlog.Info("lane.job.finished", logx.Bool("success", res.Success), logx.String("message", res.Message), logx.Duration("took", res.Duration))
		return res

	case <-timer.C:
		cancel()
		hold.revoke()
		s.teardown(cfg, b, j, jlog)
		if cfg.AbandonGrace > 0 {
			select {
			case <-done:
			case <-time.After(cfg.AbandonGrace):
			}
		}
		res.Duration = s.now().Sub(started)
		res.TimedOut = true
		res.Err = ErrJobTimeout
		res.Message = fmt.Sprintf("operation timed out after %s; final state unknown", cfg.JobTimeout)
		jlog.Warn("lane.job.timeout", logx.Duration("timeout", cfg.JobTimeout))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobTimedOut, Time: s.now(), Data: eventbus.JobEvent{
			BatchID: batchID, Kind: b.Kind, LaneID: j.LaneID, ItemID: j.ItemID, Message: res.Message, TimedOut: true,
		}})
		return res

	case <-ctx.Done():
		cancel()
		hold.revoke()
		s.teardown(cfg, b, j, jlog)
		jlog.Warn("lane.job.canceled", logx.Err(ctx.Err()))
		r := canceled(j, started, "canceled while running; final state unknown")
		r.NotStarted = false
		r.Duration = s.now().Sub(started)
		return r
	}
}

func (s *Service) teardown(cfg Config, b Batch, j lane.Job, log logx.Logger) {
	if b.Teardown == nil {
		return
	}
	tctx, cancel := context.WithTimeout(context.Background(), cfg.TeardownTimeout)
	defer cancel()
	err := rtsup.Call(func() error { return b.Teardown(tctx, j) })
	if err != nil {
		log.Warn("lane.teardown.failed", logx.Err(err))
	}
}

func (s *Service) record(batchID, kind string, r Result) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{
		BatchID:   batchID,
		Kind:      kind,
		Job:       r.Job.String(),
		Success:   r.Success,
		TimedOut:  r.TimedOut,
		Message:   r.Message,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
	})
	if over := len(s.history) - size; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.sup != nil, MaxLanes: s.cfg.MaxLanes}
	s.mu.Unlock()

	snap.ActiveLanes = int(s.active.Load())
	snap.BusyLanes = s.lanes.busy()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

// canceled is the result of a job the batch gave up on before it ran.
func canceled(j lane.Job, at time.Time, msg string) Result {
	return Result{Job: j, Canceled: true, NotStarted: true, Message: msg, Err: context.Canceled, StartedAt: at}
}

func abortRemaining(jobs []lane.Job, done []Result, msg string) []Result {
	seen := make(map[int]bool, len(done))
	for _, r := range done {
		seen[r.Job.Index] = true
	}
	for _, j := range jobs {
		if !seen[j.Index] {
			done = append(done, Result{Job: j, NotStarted: true, Message: msg})
		}
	}
	return done
}
