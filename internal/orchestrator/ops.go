package orchestrator

import (
	"context"
	"fmt"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/storage"
	logx "pubmatrix/pkg/logx"
)

// PublishNow publishes the selected items right away, in selection order
// within each lane. Items that cannot run are reported as skipped; only a
// failure to start the batch is returned as an error.
func (o *Orchestrator) PublishNow(ctx context.Context, ids []int64) (BatchResult, error) {
	items, reasons := o.load(ctx, ids)
	res, err := o.run(ctx, directBatch, ids, items, reasons)
	if err != nil {
		return res, err
	}
	o.log.Info("publish.batch",
		logx.String("batch_id", res.BatchID),
		logx.Int("selected", len(ids)),
		logx.Int("ok", res.Succeeded()),
		logx.Int("failed", res.Failed()),
		logx.Int("skipped", res.Skipped()),
	)
	return res, nil
}

// CheckDue is the adaptive tick: it retries parked outcome writes, runs
// every due scheduled item and returns how much scheduled work remains.
func (o *Orchestrator) CheckDue(ctx context.Context) (int, error) {
	if parked, err := o.rec.Flush(ctx); err != nil {
		o.log.Warn("publish.flush_incomplete", logx.Int("parked", parked), logx.Err(err))
	}

	now := o.now()
	due, err := o.repo.ListDue(ctx, domain.StatusScheduled, domain.ScheduleScheduled, now)
	if err != nil {
		return 0, errors.Wrap(err, "list due items")
	}
	if len(due) > 0 {
		ids := make([]int64, 0, len(due))
		items := make(map[int64]domain.ContentItem, len(due))
		for _, it := range due {
			ids = append(ids, it.ID)
			items[it.ID] = it
		}
		res, err := o.run(ctx, tickBatch, ids, items, map[int64]string{})
		if err != nil {
			return 0, err
		}
		o.log.Info("publish.tick",
			logx.String("batch_id", res.BatchID),
			logx.Int("due", len(due)),
			logx.Int("ok", res.Succeeded()),
			logx.Int("failed", res.Failed()),
			logx.Int("skipped", res.Skipped()),
		)
	}

	pending, err := o.repo.CountPending(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "count pending items")
	}
	return pending + o.rec.Pending(), nil
}

// RunPlanned publishes one planned item. It is the job behind a
// publish.planned.<id> trigger; an item another run already took is not an
// error.
func (o *Orchestrator) RunPlanned(ctx context.Context, id int64) error {
	item, err := o.repo.GetItem(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		o.log.Debug("publish.planned.gone", logx.Int64("item", id))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load item %d", id)
	}
	if item.State() != (domain.State{Status: domain.StatusScheduled, Schedule: domain.ScheduleScheduled}) {
		o.log.Debug("publish.planned.superseded", logx.Int64("item", id), logx.String("state", item.State().String()))
		return nil
	}

	res, err := o.run(ctx, plannedBatch, []int64{id}, map[int64]domain.ContentItem{id: item}, map[int64]string{})
	if err != nil {
		return err
	}
	if len(res.Items) == 1 {
		it := res.Items[0]
		o.log.Info("publish.planned",
			logx.Int64("item", id),
			logx.Bool("success", it.Success),
			logx.Bool("skipped", it.Skipped),
			logx.String("message", it.Message),
		)
	}
	return nil
}

// Schedule moves draft items to a scheduled publish at the given instant.
func (o *Orchestrator) Schedule(ctx context.Context, ids []int64, at time.Time) []ItemResult {
	if at.IsZero() {
		out := make([]ItemResult, 0, len(ids))
		for _, id := range ids {
			out = append(out, ItemResult{ItemID: id, Skipped: true, Message: "schedule time is required"})
		}
		return out
	}
	out := o.each(ctx, ids, domain.Event{Kind: domain.EventRequestSchedule, At: at}, nil)
	for _, r := range out {
		if r.Success {
			o.pendingChanged()
			break
		}
	}
	return out
}

// Cancel returns scheduled items to draft and drops their planned trigger.
func (o *Orchestrator) Cancel(ctx context.Context, ids []int64) []ItemResult {
	return o.each(ctx, ids, domain.Event{Kind: domain.EventCancel}, func(id int64) {
		if o.triggers != nil {
			o.triggers.Remove(PlannedTrigger(id))
		}
	})
}

func (o *Orchestrator) ReturnToDraft(ctx context.Context, ids []int64) []ItemResult {
	return o.each(ctx, ids, domain.Event{Kind: domain.EventReturnToDraft}, nil)
}

func (o *Orchestrator) Hide(ctx context.Context, ids []int64) []ItemResult {
	return o.each(ctx, ids, domain.Event{Kind: domain.EventHide}, nil)
}

// each applies ev to every id independently.
func (o *Orchestrator) each(ctx context.Context, ids []int64, ev domain.Event, after func(id int64)) []ItemResult {
	out := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		next, err := o.rec.Apply(ctx, id, ev)
		if err != nil {
			o.log.Debug("item.transition_rejected", logx.Int64("item", id), logx.String("event", string(ev.Kind)), logx.Err(err))
			out = append(out, ItemResult{ItemID: id, Skipped: true, Message: transitionMessage(err)})
			continue
		}
		if after != nil {
			after(id)
		}
		out = append(out, ItemResult{ItemID: id, Success: true, Message: next.State().String()})
	}
	return out
}

// load fetches the selected items. Ids that cannot be loaded get a reason.
func (o *Orchestrator) load(ctx context.Context, ids []int64) (map[int64]domain.ContentItem, map[int64]string) {
	items := make(map[int64]domain.ContentItem, len(ids))
	reasons := map[int64]string{}
	for _, id := range ids {
		if _, ok := items[id]; ok {
			continue
		}
		it, err := o.repo.GetItem(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			reasons[id] = "item not found"
		case err != nil:
			reasons[id] = fmt.Sprintf("load item: %v", err)
		default:
			items[id] = it
		}
	}
	return items, reasons
}

func transitionMessage(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "item not found"
	case errors.Is(err, storage.ErrConflict):
		return "item changed concurrently"
	default:
		return err.Error()
	}
}
