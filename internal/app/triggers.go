package app

import (
	"context"
	"strings"

	"pubmatrix/internal/config"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/orchestrator"
)

const (
	triggerKickoff = "daily.kickoff"
	triggerHealth  = "health.check"
)

// registerTriggers upserts every recurring trigger for cfg. Registration is
// by name, so calling it again on reload never duplicates a trigger.
func (a *App) registerTriggers(cfg *config.Config) error {
	busy, idle := dueIntervals(cfg)
	if err := a.sched.AddAdaptive(orchestrator.DueTrigger, busy, idle, a.orch.CheckDue); err != nil {
		return errors.Wrap(err, "due check trigger")
	}

	if cfg.Daily.Enabled {
		if err := a.sched.AddDaily(triggerKickoff, cfg.Daily.At, 0, a.orch.DailyKickoff); err != nil {
			return errors.Wrap(err, "daily kickoff trigger")
		}
	} else {
		a.sched.Remove(triggerKickoff)
	}

	if spec := strings.TrimSpace(cfg.Health.Schedule); spec != "" {
		if err := a.sched.AddSchedule(triggerHealth, spec, 0, a.checkAccounts); err != nil {
			return errors.Wrap(err, "health trigger")
		}
	} else {
		a.sched.Remove(triggerHealth)
	}
	return nil
}

func (a *App) checkAccounts(ctx context.Context) error {
	_, err := a.health.Check(ctx)
	return err
}
