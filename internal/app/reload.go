package app

import (
	"context"
	"strings"

	"pubmatrix/internal/config"
	"pubmatrix/internal/eventbus"
	logx "pubmatrix/pkg/logx"
)

// sections that are bound once at startup
var restartRequired = map[string]bool{"storage": true, "browser": true, "adapters": true}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			next = latest(sub, next)
			a.applyConfig(last, next)
			last = next
		}
	}
}

// latest coalesces a burst of reloads into the newest one.
func latest(sub chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig pushes a validated config into every live component.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.sched.Apply(mapSchedulerConfig(next))
	a.exec.Apply(mapExecutorConfig(next))
	a.health.Apply(mapHealthConfig(next))

	if p, err := mapPlanner(next); err != nil {
		a.log.Warn("invalid planner config; keeping previous", logx.Err(err))
	} else {
		a.orch.SetPlanner(p)
	}
	if ncfg, sinks, err := mapNotifier(next, a.log); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg, sinks)
	}
	if err := a.registerTriggers(next); err != nil {
		a.log.Warn("trigger update failed", logx.Err(err))
	}

	for _, s := range sections {
		if restartRequired[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
}
