// Package lane partitions work into per-lane ordered queues. A lane is one
// exclusive automation session (a browser profile); jobs that share a lane
// must run one after another.
package lane

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"pubmatrix/internal/domain"
)

// Job is one attempt to run a single unit of work on a lane. ItemID is zero
// for account-level jobs such as health probes.
type Job struct {
	ItemID    int64
	AccountID int64
	LaneID    string
	Index     int // position in the caller's original selection
}

func (j Job) String() string {
	if j.ItemID == 0 {
		return fmt.Sprintf("account:%d@%s", j.AccountID, j.LaneID)
	}
	return fmt.Sprintf("item:%d@%s", j.ItemID, j.LaneID)
}

// Queue is the FIFO of jobs for one lane.
type Queue struct {
	LaneID string
	Jobs   []Job
}

// Skip records an item that could not be placed on a lane.
type Skip struct {
	ItemID int64
	Index  int
	Reason string
}

// Plan is the grouper output. Queues are ordered by the first selection
// index they contain so lane start order follows the caller's intent.
type Plan struct {
	Queues  []Queue
	Skipped []Skip
}

func (p Plan) Len() int {
	n := 0
	for _, q := range p.Queues {
		n += len(q.Jobs)
	}
	return n
}

// Lookup resolves the account of an item. ok=false means the item has no
// usable account.
type Lookup func(itemID int64) (acc domain.Account, ok bool)

// Group partitions ids into per-lane queues keeping selection order inside
// each lane. It performs no I/O.
func Group(ids []int64, lookup Lookup) Plan {
	var (
		plan  Plan
		lanes = map[string]int{} // laneID -> index in plan.Queues
		seen  = map[int64]bool{}
	)
	for idx, id := range ids {
		if seen[id] {
			plan.Skipped = append(plan.Skipped, Skip{ItemID: id, Index: idx, Reason: "duplicate in selection"})
			continue
		}
		seen[id] = true

		acc, ok := lookup(id)
		if !ok {
			plan.Skipped = append(plan.Skipped, Skip{ItemID: id, Index: idx, Reason: "no account assigned"})
			continue
		}
		laneID := LaneOf(acc)
		if laneID == "" {
			plan.Skipped = append(plan.Skipped, Skip{ItemID: id, Index: idx, Reason: fmt.Sprintf("account %d has no lane", acc.ID)})
			continue
		}
		pos, ok := lanes[laneID]
		if !ok {
			pos = len(plan.Queues)
			lanes[laneID] = pos
			plan.Queues = append(plan.Queues, Queue{LaneID: laneID})
		}
		plan.Queues[pos].Jobs = append(plan.Queues[pos].Jobs, Job{ItemID: id, AccountID: acc.ID, LaneID: laneID, Index: idx})
	}
	sortQueues(plan.Queues)
	return plan
}

// GroupAccounts builds one job per account, grouped by lane, in the order
// given.
func GroupAccounts(accounts []domain.Account) Plan {
	var (
		plan  Plan
		lanes = map[string]int{}
	)
	for idx, acc := range accounts {
		laneID := LaneOf(acc)
		if laneID == "" {
			plan.Skipped = append(plan.Skipped, Skip{Index: idx, Reason: fmt.Sprintf("account %d has no lane", acc.ID)})
			continue
		}
		pos, ok := lanes[laneID]
		if !ok {
			pos = len(plan.Queues)
			lanes[laneID] = pos
			plan.Queues = append(plan.Queues, Queue{LaneID: laneID})
		}
		plan.Queues[pos].Jobs = append(plan.Queues[pos].Jobs, Job{AccountID: acc.ID, LaneID: laneID, Index: idx})
	}
	sortQueues(plan.Queues)
	return plan
}

// LaneOf returns the lane key of an account.
func LaneOf(acc domain.Account) string { return strings.TrimSpace(acc.LaneID) }

// Filter drops jobs for which keep returns false and removes lanes left
// empty.
func (p Plan) Filter(keep func(Job) bool) Plan {
	out := Plan{Skipped: slices.Clone(p.Skipped)}
	for _, q := range p.Queues {
		nq := Queue{LaneID: q.LaneID}
		for _, j := range q.Jobs {
			if keep(j) {
				nq.Jobs = append(nq.Jobs, j)
			}
		}
		if len(nq.Jobs) > 0 {
			out.Queues = append(out.Queues, nq)
		}
	}
	return out
}

func sortQueues(qs []Queue) {
	for i := range qs {
		sort.SliceStable(qs[i].Jobs, func(a, b int) bool { return qs[i].Jobs[a].Index < qs[i].Jobs[b].Index })
	}
	sort.SliceStable(qs, func(a, b int) bool { return qs[a].Jobs[0].Index < qs[b].Jobs[0].Index })
}
