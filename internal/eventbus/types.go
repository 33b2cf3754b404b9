package eventbus

import "time"

// Event types emitted by the pipeline.
const (
	TypePublishItem    = "publish.item"
	TypePublishBatch   = "publish.batch"
	TypePublishTick    = "publish.tick"
	TypePublishPlanned = "publish.planned"
	TypeStranded       = "reconcile.stranded"
	TypeHealthChecked  = "health.checked"
	TypeJobTimedOut    = "executor.job_timeout"
	TypeConfigReloaded = "config.reloaded"
	TypeDailyKickoff   = "daily.kickoff"
)

// ItemEvent is the per-item notification: {type, itemId, success, timestamp}.
// The type and timestamp live on the enclosing Event.
type ItemEvent struct {
	ItemID  int64  `json:"item_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
}

// BatchEvent summarises one batch or tick.
type BatchEvent struct {
	BatchID   string        `json:"batch_id"`
	Kind      string        `json:"kind"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Items     []ItemEvent   `json:"items,omitempty"`
	Took      time.Duration `json:"took"`
}

// StrandedEvent reports an item found holding a claim marker with no batch
// running it.
type StrandedEvent struct {
	ItemID    int64     `json:"item_id"`
	Title     string    `json:"title,omitempty"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthEvent summarises one account health pass.
type HealthEvent struct {
	BatchID      string        `json:"batch_id"`
	Total        int           `json:"total"`
	Healthy      int           `json:"healthy"`
	Unhealthy    int           `json:"unhealthy"`
	Inconclusive int           `json:"inconclusive"`
	Took         time.Duration `json:"took"`
}

// KickoffEvent reports one daily ingest-and-plan run.
type KickoffEvent struct {
	Added       int    `json:"added"`
	Updated     int    `json:"updated"`
	Planned     int    `json:"planned"`
	Skipped     int    `json:"skipped"`
	IngestError string `json:"ingest_error,omitempty"`
}

// JobEvent is the payload of executor events.
type JobEvent struct {
	BatchID  string `json:"batch_id"`
	Kind     string `json:"kind"`
	LaneID   string `json:"lane_id"`
	ItemID   int64  `json:"item_id,omitempty"`
	Message  string `json:"message,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}
