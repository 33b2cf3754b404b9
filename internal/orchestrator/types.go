package orchestrator

import (
	"fmt"
	"time"

	"pubmatrix/internal/planner"
	"pubmatrix/internal/task/scheduler"
)

const (
	KindDirect  = "publish"
	KindTick    = "tick"
	KindPlanned = "planned"

	// DueTrigger is the name of the adaptive due-item check.
	DueTrigger = "publish.due"
)

// PlannedTrigger is the one-shot trigger name of a planned publish.
func PlannedTrigger(itemID int64) string { return fmt.Sprintf("publish.planned.%d", itemID) }

// Triggers is the part of the trigger engine the pipeline registers
// planned publishes with.
type Triggers interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
}

// ItemResult is the outcome of one selected item.
type ItemResult struct {
	ItemID  int64  `json:"item_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	// Skipped items never reached a lane.
	Skipped  bool `json:"skipped,omitempty"`
	TimedOut bool `json:"timed_out,omitempty"`
	// Stranded items were interrupted mid-publish and keep their claim.
	Stranded bool `json:"stranded,omitempty"`
}

type BatchResult struct {
	BatchID   string        `json:"batch_id,omitempty"`
	Kind      string        `json:"kind"`
	Items     []ItemResult  `json:"items"`
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`
}

func (b BatchResult) count(keep func(ItemResult) bool) int {
	n := 0
	for _, it := range b.Items {
		if keep(it) {
			n++
		}
	}
	return n
}

func (b BatchResult) Succeeded() int { return b.count(func(r ItemResult) bool { return r.Success }) }
func (b BatchResult) Skipped() int   { return b.count(func(r ItemResult) bool { return r.Skipped }) }
func (b BatchResult) Failed() int {
	return b.count(func(r ItemResult) bool { return !r.Success && !r.Skipped })
}

type PlanResult struct {
	Scheduled []planner.Slot `json:"scheduled"`
	Skipped   []planner.Skip `json:"skipped"`
	// Errors holds items the planner picked but that could not be scheduled.
	Errors []ItemResult `json:"errors,omitempty"`
}

type indexed struct {
	idx int
	res ItemResult
}
