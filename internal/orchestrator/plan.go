package orchestrator

import (
	"context"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	logx "pubmatrix/pkg/logx"
)

var ErrPlannerDisabled = errors.New("planner disabled")

// Plan schedules today's slots for unscheduled drafts and arms one
// one-shot trigger per slot. Re-planning an item replaces its trigger.
func (o *Orchestrator) Plan(ctx context.Context) (PlanResult, error) {
	p := o.currentPlanner()
	if p == nil {
		return PlanResult{}, ErrPlannerDisabled
	}
	drafts, err := o.repo.ListByStatus(ctx, domain.StatusUnpublished)
	if err != nil {
		return PlanResult{}, errors.Wrap(err, "list drafts")
	}

	slots, skips := p.Plan(o.now(), drafts)
	out := PlanResult{Skipped: skips}
	for _, s := range slots {
		if _, err := o.rec.Apply(ctx, s.ItemID, domain.Event{Kind: domain.EventRequestSchedule, At: s.RunAt}); err != nil {
			out.Errors = append(out.Errors, ItemResult{ItemID: s.ItemID, Skipped: true, Message: transitionMessage(err)})
			continue
		}
		if o.triggers != nil {
			id := s.ItemID
			if err := o.triggers.AddOnce(PlannedTrigger(id), s.RunAt, 0, func(ctx context.Context) error {
				return o.RunPlanned(ctx, id)
			}); err != nil {
				// the due check still picks the item up
				o.log.Warn("plan.trigger_failed", logx.Int64("item", id), logx.Err(err))
			}
		}
		out.Scheduled = append(out.Scheduled, s)
		o.log.Debug("plan.slot",
			logx.Int64("item", s.ItemID),
			logx.Int64("account", s.AccountID),
			logx.String("window", s.Window.String()),
			logx.Time("run_at", s.RunAt),
		)
	}
	if len(out.Scheduled) > 0 {
		o.pendingChanged()
	}
	o.log.Info("plan.done",
		logx.Int("drafts", len(drafts)),
		logx.Int("scheduled", len(out.Scheduled)),
		logx.Int("skipped", len(out.Skipped)),
		logx.Int("errors", len(out.Errors)),
	)
	return out, nil
}

// DailyKickoff ingests new content and plans the day. An ingest failure is
// logged and planning still runs on what is already stored.
func (o *Orchestrator) DailyKickoff(ctx context.Context) error {
	var ev eventbus.KickoffEvent
	if o.ingest != nil {
		rep, err := o.ingest.Ingest(ctx)
		if err != nil {
			ev.IngestError = err.Error()
			o.log.Error("kickoff.ingest_failed", logx.Err(err))
		} else {
			ev.Added, ev.Updated = rep.Added, rep.Updated
			o.log.Info("kickoff.ingested", logx.Int("added", rep.Added), logx.Int("updated", rep.Updated), logx.Int("skipped", rep.Skipped))
		}
	}

	var planErr error
	res, err := o.Plan(ctx)
	switch {
	case errors.Is(err, ErrPlannerDisabled):
	case err != nil:
		planErr = err
	default:
		ev.Planned, ev.Skipped = len(res.Scheduled), len(res.Skipped)
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeDailyKickoff, Time: o.now(), Data: ev})
	return planErr
}
