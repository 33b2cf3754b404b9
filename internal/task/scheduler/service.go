package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pubmatrix/internal/errors"
	rtsup "pubmatrix/internal/runtime/supervisor"
	logx "pubmatrix/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("comp", "trigger")),
		now: time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:     map[string]*onceDef{},
		adaptive: map[string]*adaptiveDef{},
		lastFail: map[string]time.Time{},
	}
}

// SetClock replaces the time source used for one-shot delays and history.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartCronLocked()
	}
}

// Location is the zone daily triggers fire in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

// Start begins firing registered triggers. Registrations made before Start
// are kept and armed here.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("trigger register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	for name, d := range s.once {
		s.armOnceLocked(name, d)
	}
	for name, d := range s.adaptive {
		s.armAdaptiveLocked(name, d, 0)
	}
	s.log.Info("trigger engine started",
		logx.String("tz", s.loc.String()),
		logx.Int("cron", len(s.defs)),
		logx.Int("once", len(s.once)),
		logx.Int("adaptive", len(s.adaptive)),
	)
}

// Stop disarms every trigger and waits for in-flight runs until ctx ends.
// Definitions are kept, so a later Start re-arms them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	for _, d := range s.adaptive {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("trigger runs still in flight at stop", logx.Err(ctx.Err()))
	}
	s.log.Info("trigger engine stopped", logx.Duration("took", time.Since(start)))
}

// run executes one trigger firing. It never panics and never returns an
// error: both are logged and recorded in history.
func (s *Service) run(name string, kind Kind, timeout time.Duration, guard *atomic.Bool, job func(ctx context.Context) error) {
	if guard != nil && !guard.CompareAndSwap(false, true) {
		s.recordHistory(HistoryItem{Name: name, Kind: kind, StartedAt: s.clock(), Skipped: true})
		s.log.Debug("trigger.skipped", logx.String("name", name), logx.String("reason", "previous run still active"))
		return
	}
	if guard != nil {
		defer guard.Store(false)
	}

	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	base := s.ctx
	if timeout <= 0 {
		timeout = s.cfg.JobTimeout
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	startedAt := s.clock()
	t0 := time.Now()
	err := rtsup.Call(func() error { return job(ctx) })
	took := time.Since(t0)

	h := HistoryItem{Name: name, Kind: kind, StartedAt: startedAt, Duration: took}
	if err != nil {
		h.Error = err.Error()
		var pe *rtsup.PanicError
		if errors.As(err, &pe) {
			s.log.Error("trigger.panic", logx.String("name", name), logx.Any("panic", pe.Value), logx.Stack(pe.Stack))
		} else {
			s.reportFailure(name, err)
		}
	} else {
		s.log.Debug("trigger.done", logx.String("name", name), logx.String("kind", string(kind)), logx.Duration("took", took))
	}
	s.recordHistory(h)
}

func (s *Service) clock() time.Time {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now()
}

func (s *Service) recordHistory(h HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, h)
	if over := len(s.history) - size; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// restartCronLocked swaps in a cron for the current timezone. Runs already
// in flight finish on their own context; waiting for them here would
// deadlock on s.mu.
func (s *Service) restartCronLocked() {
	s.c.Stop()
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		s.defs[i].entryID = 0
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("trigger register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("trigger engine restarted", logx.String("tz", s.loc.String()), logx.Int("cron", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
