package engine

import (
	"context"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/lane"
)

// Config controls the lane executor.
type Config struct {
	// MaxLanes bounds how many lanes run at once across all batches.
	MaxLanes int
	// JobTimeout is the hard wall-clock limit of a single job.
	JobTimeout time.Duration
	// AbandonGrace is how long a lane waits for a timed-out job to return
	// after teardown. 0 moves on immediately.
	AbandonGrace time.Duration
	// TeardownTimeout bounds the teardown call itself.
	TeardownTimeout time.Duration
	HistorySize     int
}

func (c Config) withDefaults() Config {
	if c.MaxLanes <= 0 {
		c.MaxLanes = 3
	}
	c.MaxLanes = min(c.MaxLanes, laneCeiling)
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.AbandonGrace < 0 {
		c.AbandonGrace = 0
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Runner executes one job. A returned error is an automation failure; its
// text becomes the result message.
type Runner func(ctx context.Context, j lane.Job) (domain.Outcome, error)

// Teardown forcibly releases the resource behind a lane after a job was
// abandoned.
type Teardown func(ctx context.Context, j lane.Job) error

// Batch is one call to Run.
type Batch struct {
	// ID is generated when empty.
	ID       string
	Kind     string // "publish", "health", ...
	Queues   []lane.Queue
	Run      Runner
	Teardown Teardown
	// OnResult is called from the lane goroutine after each job, before the
	// next job of that lane starts.
	OnResult func(Result)
}

type Result struct {
	Job      lane.Job
	Success  bool
	Message  string
	Err      error
	TimedOut bool
	// Canceled is set when the batch context ended before the job finished.
	Canceled bool
	// NotStarted means the runner was never called for this job.
	NotStarted bool
	StartedAt  time.Time
	Duration   time.Duration
}

type Report struct {
	BatchID    string
	Kind       string
	Results    []Result // ordered by Job.Index
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

func (r Report) Failed() int { return len(r.Results) - r.Succeeded() }

type HistoryItem struct {
	BatchID   string        `json:"batch_id"`
	Kind      string        `json:"kind"`
	Job       string        `json:"job"`
	Success   bool          `json:"success"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Message   string        `json:"message,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

type Snapshot struct {
	Running     bool          `json:"running"`
	MaxLanes    int           `json:"max_lanes"`
	ActiveLanes int           `json:"active_lanes"`
	BusyLanes   []string      `json:"busy_lanes"`
	History     []HistoryItem `json:"history"`
}
