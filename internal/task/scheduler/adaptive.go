package scheduler

import (
	"context"
	"strings"
	"time"

	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

const (
	DefaultBusyInterval = time.Minute
	DefaultIdleInterval = 30 * time.Minute
)

// NextInterval is the delay after a tick: busy while work is pending or the
// tick failed, idle otherwise.
func NextInterval(pending int, err error, busy, idle time.Duration) time.Duration {
	if err != nil || pending > 0 {
		return busy
	}
	return idle
}

// AddAdaptive registers a recurring trigger that re-decides its delay after
// every run. The first run happens as soon as the engine is started.
// Re-adding an existing name only updates its intervals and function; the
// armed timer is kept.
func (s *Service) AddAdaptive(name string, busy, idle time.Duration, fn AdaptiveFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("trigger name required")
	}
	if fn == nil {
		return errors.Newf("trigger %s: func required", name)
	}
	if busy <= 0 {
		busy = DefaultBusyInterval
	}
	if idle <= 0 {
		idle = DefaultIdleInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.adaptive[name]; ok {
		d.busy, d.idle, d.fn = busy, idle, fn
		return nil
	}
	s.removeLocked(name)
	d := &adaptiveDef{busy: busy, idle: idle, fn: fn}
	s.adaptive[name] = d
	if s.c != nil {
		s.armAdaptiveLocked(name, d, 0)
	}
	s.log.Debug("trigger registered", logx.String("name", name), logx.String("kind", string(KindAdaptive)),
		logx.Duration("busy", busy), logx.Duration("idle", idle))
	return nil
}

func (s *Service) armAdaptiveLocked(name string, d *adaptiveDef, delay time.Duration) {
	if d.timer != nil {
		d.timer.Stop()
	}
	s.seq++
	d.ver = s.seq
	d.next = s.now().Add(delay)
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() { s.tickAdaptive(name, ver) })
}

func (s *Service) tickAdaptive(name string, ver uint64) {
	s.mu.Lock()
	d, ok := s.adaptive[name]
	if !ok || d.ver != ver {
		s.mu.Unlock()
		return
	}
	if d.inFlight {
		// RunNow raced a tick; run again once it returns
		d.kick = true
		s.mu.Unlock()
		return
	}
	d.inFlight = true
	fn, busy, idle := d.fn, d.busy, d.idle
	s.mu.Unlock()

	var (
		pending  int
		tickErr  error
		finished bool
	)
	s.run(name, KindAdaptive, 0, nil, func(ctx context.Context) error {
		pending, tickErr = fn(ctx)
		finished = true
		return tickErr
	})
	if !finished && tickErr == nil {
		tickErr = errors.New("tick did not complete")
	}
	next := NextInterval(pending, tickErr, busy, idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	d.inFlight = false
	if cur, ok := s.adaptive[name]; !ok || cur != d || s.c == nil {
		return
	}
	d.prev = s.now()
	d.pending = pending
	d.interval = next
	delay := next
	if d.kick {
		d.kick = false
		delay = 0
	}
	s.armAdaptiveLocked(name, d, delay)
	s.log.Debug("trigger.adaptive", logx.String("name", name), logx.Int("pending", pending), logx.Duration("next", delay))
}
