package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/lane"
	"pubmatrix/internal/reconcile"
	"pubmatrix/internal/task/engine"
	logx "pubmatrix/pkg/logx"
)

const writeTimeout = 10 * time.Second

// batchSpec describes one flavour of publish batch.
type batchSpec struct {
	kind       string
	claim      domain.EventKind
	itemEvent  string
	batchEvent string // empty: no summary event
}

var (
	directBatch  = batchSpec{kind: KindDirect, claim: domain.EventRequestPublish, itemEvent: eventbus.TypePublishItem, batchEvent: eventbus.TypePublishBatch}
	tickBatch    = batchSpec{kind: KindTick, claim: domain.EventTriggerDue, itemEvent: eventbus.TypePublishItem, batchEvent: eventbus.TypePublishTick}
	plannedBatch = batchSpec{kind: KindPlanned, claim: domain.EventTriggerDue, itemEvent: eventbus.TypePublishPlanned}
)

// run groups ids by lane, claims every placeable item and executes the
// claimed ones. items holds the loaded items; ids missing from it are
// reported with the reason in reasons.
func (o *Orchestrator) run(ctx context.Context, spec batchSpec, ids []int64, items map[int64]domain.ContentItem, reasons map[int64]string) (BatchResult, error) {
	started := o.now()
	out := BatchResult{Kind: spec.kind, StartedAt: started}
	if len(ids) == 0 {
		return out, nil
	}
	log := o.log.With(logx.String("kind", spec.kind))

	accounts := map[int64]domain.Account{}
	lookup := func(id int64) (domain.Account, bool) {
		it, ok := items[id]
		if !ok || !it.HasAccount() {
			return domain.Account{}, false
		}
		accID := *it.AccountID
		acc, ok := accounts[accID]
		if !ok {
			var err error
			acc, err = o.repo.GetAccount(ctx, accID)
			if err != nil {
				reasons[id] = fmt.Sprintf("load account %d: %v", accID, err)
				return domain.Account{}, false
			}
			accounts[accID] = acc
		}
		if acc.Status != domain.AccountActive {
			reasons[id] = fmt.Sprintf("account %d is %s", acc.ID, acc.Status)
			return domain.Account{}, false
		}
		return acc, true
	}
	plan := lane.Group(ids, lookup)

	var done []indexed
	for _, sk := range plan.Skipped {
		msg := sk.Reason
		if r := reasons[sk.ItemID]; r != "" && sk.Reason != "duplicate in selection" {
			msg = r
		}
		done = append(done, indexed{idx: sk.Index, res: ItemResult{ItemID: sk.ItemID, Skipped: true, Message: msg}})
	}

	claimed := map[int64]domain.ContentItem{}
	for _, q := range plan.Queues {
		for _, j := range q.Jobs {
			next, err := o.rec.Claim(ctx, items[j.ItemID], spec.claim)
			if err != nil {
				log.Debug("publish.claim_skipped", logx.Int64("item", j.ItemID), logx.Err(err))
				done = append(done, indexed{idx: j.Index, res: ItemResult{ItemID: j.ItemID, Skipped: true, Message: claimMessage(err)}})
				continue
			}
			claimed[j.ItemID] = next
		}
	}
	plan = plan.Filter(func(j lane.Job) bool {
		_, ok := claimed[j.ItemID]
		return ok
	})

	if plan.Len() > 0 {
		var rmu sync.Mutex
		batchID := uuid.NewString()
		b := engine.Batch{
			ID:     batchID,
			Kind:   spec.kind,
			Queues: plan.Queues,
			Run: func(ctx context.Context, j lane.Job) (domain.Outcome, error) {
				if o.pub == nil {
					return domain.Outcome{}, errors.New("no publisher configured")
				}
				sess, err := o.sessions.Open(ctx, j.LaneID)
				if err != nil {
					return domain.Outcome{}, errors.Wrapf(err, "open session %s", j.LaneID)
				}
				defer o.release(ctx, j.LaneID)
				return o.pub.Publish(ctx, claimed[j.ItemID], accounts[j.AccountID], sess)
			},
			Teardown: func(ctx context.Context, j lane.Job) error {
				return o.sessions.Close(ctx, j.LaneID)
			},
			OnResult: func(r engine.Result) {
				res := o.settle(ctx, spec, batchID, r, log)
				rmu.Lock()
				done = append(done, indexed{idx: r.Job.Index, res: res})
				rmu.Unlock()
			},
		}
		rep, err := o.exec.Run(ctx, b)
		if err != nil {
			o.releaseClaims(ctx, claimed, log)
			return out, errors.Wrap(err, "run batch")
		}
		out.BatchID = rep.BatchID
	}

	sort.SliceStable(done, func(i, j int) bool { return done[i].idx < done[j].idx })
	out.Items = make([]ItemResult, 0, len(done))
	for _, d := range done {
		out.Items = append(out.Items, d.res)
	}
	out.Took = o.now().Sub(started)

	if spec.batchEvent != "" && plan.Len() > 0 {
		ev := eventbus.BatchEvent{
			BatchID:   out.BatchID,
			Kind:      spec.kind,
			Total:     len(out.Items),
			Succeeded: out.Succeeded(),
			Failed:    out.Failed(),
			Skipped:   out.Skipped(),
			Took:      out.Took,
		}
		for _, it := range out.Items {
			if !it.Skipped && !it.Stranded {
				ev.Items = append(ev.Items, eventbus.ItemEvent{ItemID: it.ItemID, Success: it.Success, Message: it.Message, BatchID: out.BatchID})
			}
		}
		o.bus.Publish(eventbus.Event{Type: spec.batchEvent, Time: o.now(), Data: ev})
	}
	return out, nil
}

// settle records the outcome of one finished job. It runs on the lane
// goroutine, so the next job of the lane starts only after the write.
func (o *Orchestrator) settle(ctx context.Context, spec batchSpec, batchID string, r engine.Result, log logx.Logger) ItemResult {
	id := r.Job.ItemID
	res := ItemResult{ItemID: id, Success: r.Success, Message: r.Message, TimedOut: r.TimedOut}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	switch {
	case r.NotStarted:
		// nothing reached the platform, so the claim is given back
		res.Skipped = true
		if _, err := o.rec.Apply(wctx, id, domain.Event{Kind: domain.EventRequeue}); err != nil {
			res.Stranded = true
			log.Error("publish.requeue_failed", logx.Int64("item", id), logx.Err(err))
		}
		return res
	case r.Canceled:
		res.Stranded = true
		log.Warn("publish.stranded", logx.Int64("item", id), logx.String("message", r.Message))
		return res
	}

	if err := o.rec.Record(wctx, id, r.Success, r.Message); err != nil && !o.rec.IsPending(id) {
		log.Error("publish.record_failed", logx.Int64("item", id), logx.Err(err))
	}
	if o.triggers != nil {
		o.triggers.Remove(PlannedTrigger(id))
	}
	o.bus.Publish(eventbus.Event{Type: spec.itemEvent, Time: o.now(), Data: eventbus.ItemEvent{
		ItemID:  id,
		Success: r.Success,
		Message: r.Message,
		BatchID: batchID,
	}})
	return res
}

// release closes the lane session unless the executor abandoned the job;
// by then the session was torn down and may belong to the next job.
func (o *Orchestrator) release(ctx context.Context, laneID string) {
	held := engine.Held(ctx, func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := o.sessions.Close(cctx, laneID); err != nil {
			o.log.Warn("publish.session.close_failed", logx.String("lane", laneID), logx.Err(err))
		}
	})
	if !held {
		o.log.Debug("publish.session.release_skipped", logx.String("lane", laneID))
	}
}

// releaseClaims hands claims back when the batch never started.
func (o *Orchestrator) releaseClaims(ctx context.Context, claimed map[int64]domain.ContentItem, log logx.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	for id := range claimed {
		if _, err := o.rec.Apply(wctx, id, domain.Event{Kind: domain.EventRequeue}); err != nil {
			log.Error("publish.requeue_failed", logx.Int64("item", id), logx.Err(err))
		}
	}
}

func claimMessage(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrClaimed):
		return "already claimed by another run"
	case errors.Is(err, domain.ErrUndefinedTransition):
		return fmt.Sprintf("not publishable: %v", err)
	default:
		return err.Error()
	}
}
