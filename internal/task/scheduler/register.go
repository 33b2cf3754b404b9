package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

// AddDaily registers job at HH:MM every day in the scheduler timezone,
// replacing any trigger with the same name.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.addCron(name, KindDaily, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddSchedule registers job on a cron expression, descriptor or interval
// (see ParseSchedule), replacing any trigger with the same name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	return s.addCron(name, KindSchedule, spec, timeout, job)
}

func (s *Service) addCron(name string, kind Kind, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("trigger name required")
	}
	if job == nil {
		return errors.Newf("trigger %s: job required", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return errors.Wrapf(err, "trigger %s: spec %q", name, spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, cronDef{
		name:    name,
		kind:    kind,
		spec:    spec,
		timeout: timeout,
		job:     job,
		running: &atomic.Bool{},
	})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("trigger register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("kind", string(kind)), logx.String("spec", spec)}
	if next := s.previewLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	if d.spread > 0 {
		fields = append(fields, logx.Duration("spread", d.spread))
	}
	s.log.Debug("trigger registered", fields...)
	return nil
}

func (s *Service) addCronLocked(d *cronDef) error {
	name, kind, timeout, job, guard := d.name, d.kind, d.timeout, d.job, d.running
	fire := cron.FuncJob(func() { s.run(name, kind, timeout, guard, job) })

	spec := strings.TrimSpace(d.spec)
	if rest, ok := strings.CutPrefix(spec, "@every"); ok {
		if every, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && every > 0 {
			sched, jitter := spreadInterval(every, time.Now().In(s.loc))
			d.spread = jitter
			d.entryID = s.c.Schedule(sched, fire)
			return nil
		}
	}
	d.spread = 0
	id, err := s.c.AddJob(spec, fire)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// AddOnce arms a one-shot timer at the given instant. Re-adding a name
// replaces its timer; a stale timer that already fired is ignored. An
// instant in the past fires immediately.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("trigger name required")
	}
	if at.IsZero() {
		return errors.Newf("trigger %s: time required", name)
	}
	if job == nil {
		return errors.Newf("trigger %s: job required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.seq++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.seq}
	s.once[name] = d
	if s.c != nil {
		s.armOnceLocked(name, d)
	}
	s.log.Debug("trigger registered", logx.String("name", name), logx.String("kind", string(KindOnce)), logx.Time("at", at))
	return nil
}

func (s *Service) armOnceLocked(name string, d *onceDef) {
	delay := max(d.at.Sub(s.now()), 0)
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.mu.Unlock()
			return
		}
		// drop the definition first so a restart can never fire it twice
		delete(s.once, name)
		s.mu.Unlock()
		s.run(name, KindOnce, cur.timeout, nil, cur.job)
	})
}

// Remove unregisters every trigger with the given name. Unknown names are
// a no-op. Returns whether anything was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("trigger removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether a trigger with this name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.once[name]; ok {
		return true
	}
	if _, ok := s.adaptive[name]; ok {
		return true
	}
	for _, d := range s.defs {
		if d.name == name {
			return true
		}
	}
	return false
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]

	if d, ok := s.once[name]; ok {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(s.once, name)
		removed = true
	}
	if d, ok := s.adaptive[name]; ok {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(s.adaptive, name)
		removed = true
	}
	return removed
}

// previewLocked lists the next n fire times of spec for debug logs.
func (s *Service) previewLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := s.now().In(s.loc)
	parts := make([]string, 0, n)
	for range n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

// RunNow fires a registered cron or adaptive trigger immediately, outside
// its schedule. Used by the CLI and after operations that change what is
// pending.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	if d, ok := s.adaptive[name]; ok {
		if s.c != nil {
			s.armAdaptiveLocked(name, d, 0)
		}
		s.mu.Unlock()
		return nil
	}
	var def *cronDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return errors.Newf("trigger %s not registered", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.run(def.name, def.kind, def.timeout, def.running, def.job)
	return nil
}
