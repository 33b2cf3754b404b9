package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pubmatrix/internal/eventbus"
	rtsup "pubmatrix/internal/runtime/supervisor"
	logx "pubmatrix/pkg/logx"
)

const sendTimeout = 15 * time.Second

// Service forwards bus events to sinks. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	types   filter
	sinks   []Sink
	limiter *rate.Limiter

	log logx.Logger
	bus eventbus.Bus

	sup   *rtsup.Supervisor
	unsub func()

	sent   atomic.Uint64
	failed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Snapshot struct {
	Enabled bool          `json:"enabled"`
	Sinks   []string      `json:"sinks"`
	Sent    uint64        `json:"sent"`
	Failed  uint64        `json:"failed"`
	History []HistoryItem `json:"history"`
}

func New(cfg Config, sinks []Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log.With(logx.String("comp", "notifier")), bus: eventbus.OrNop(bus)}
	s.applyLocked(cfg, sinks)
	return s
}

// Apply swaps config and sinks. A new queue size takes effect on the next
// Start.
func (s *Service) Apply(cfg Config, sinks []Sink) {
	s.mu.Lock()
	s.applyLocked(cfg, sinks)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config, sinks []Sink) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.sinks = append([]Sink(nil), sinks...)
	s.types = filter(cfg.Types)
	if len(s.types) == 0 {
		s.types = filter(DefaultTypes)
	}
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to the bus. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	ch, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("notifier.loop", func(ctx context.Context) error {
		return s.loop(ctx, ch)
	})
	s.log.Info("notifier started", logx.Bool("enabled", s.cfg.Enabled), logx.Int("sinks", len(s.sinks)))
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	unsub()
	return sup.Stop(ctx)
}

func (s *Service) loop(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.deliver(ctx, ev)
		}
	}
}

func (s *Service) deliver(ctx context.Context, ev eventbus.Event) {
	s.mu.Lock()
	enabled, types, sinks, lim := s.cfg.Enabled, s.types, s.sinks, s.limiter
	s.mu.Unlock()
	if !enabled || len(sinks) == 0 || !types.match(ev.Type) {
		return
	}
	if err := lim.Wait(ctx); err != nil {
		return
	}

	msg := Message{Type: ev.Type, Time: ev.Time, Text: Format(ev), Data: ev.Data}
	for _, sink := range sinks {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := rtsup.Call(func() error { return sink.Send(sctx, msg) })
		cancel()

		h := HistoryItem{At: time.Now(), Type: ev.Type, Sink: sink.Name()}
		if err != nil {
			s.failed.Add(1)
			h.Error = err.Error()
			s.log.Warn("notify.failed", logx.String("sink", sink.Name()), logx.String("type", ev.Type), logx.Err(err))
		} else {
			s.sent.Add(1)
			s.log.Debug("notify.sent", logx.String("sink", sink.Name()), logx.String("type", ev.Type))
		}
		s.appendHistory(h)
	}
}

func (s *Service) appendHistory(h HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, h)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled}
	for _, sk := range s.sinks {
		snap.Sinks = append(snap.Sinks, sk.Name())
	}
	s.mu.Unlock()
	snap.Sent = s.sent.Load()
	snap.Failed = s.failed.Load()
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
