package config

// Config is the on-disk configuration. YAML and JSON files decode into the
// same struct; unknown keys are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor"`
	Daily     DailyConfig     `json:"daily"`
	Planner   PlannerConfig   `json:"planner"`
	Health    HealthConfig    `json:"health"`
	Browser   BrowserConfig   `json:"browser"`
	Adapters  AdaptersConfig  `json:"adapters"`
	Notifier  NotifierConfig  `json:"notifier"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the repository backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/pubmatrix.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the trigger engine.
//
// Defaults:
//   - timezone: Local
//   - busy_interval: "1m" (at least one scheduled item pending)
//   - idle_interval: "30m"
//   - job_timeout: "10m" (whole tick / kickoff budget)
type SchedulerConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	BusyInterval string `json:"busy_interval,omitempty"`
	IdleInterval string `json:"idle_interval,omitempty"`
	JobTimeout   string `json:"job_timeout,omitempty"`
}

// ExecutorConfig controls the lane executor.
//
// Defaults:
//   - max_lanes: 3
//   - job_timeout: "5m"
//   - abandon_grace: "0s"
//   - history_size: 200
type ExecutorConfig struct {
	MaxLanes     int    `json:"max_lanes,omitempty"`
	JobTimeout   string `json:"job_timeout,omitempty"`
	AbandonGrace string `json:"abandon_grace,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

type DailyConfig struct {
	Enabled bool   `json:"enabled"`
	At      string `json:"at"` // HH:MM
}

type PlannerConfig struct {
	Enabled    bool     `json:"enabled"`
	Windows    []string `json:"windows"` // "HH:MM-HH:MM", at most 3
	DaysWindow int      `json:"days_window,omitempty"`
	DailyQuota int      `json:"daily_quota,omitempty"`
	PeakQuota  int      `json:"peak_quota,omitempty"`
	PeakDays   []string `json:"peak_days,omitempty"` // weekday names
}

// HealthConfig controls the account health monitor. Schedule accepts a cron
// expression or a descriptor such as "@every 6h"; empty disables the
// recurring check.
type HealthConfig struct {
	Schedule     string `json:"schedule,omitempty"`
	ProbeTimeout string `json:"probe_timeout,omitempty"`
	Pace         string `json:"pace,omitempty"`
}

// BrowserConfig points at the browser-profile backend that owns the
// automation sessions. Empty base_url disables it.
type BrowserConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	OpenAttempts   int    `json:"open_attempts,omitempty"`
	RetryDelay     string `json:"retry_delay,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type AdaptersConfig struct {
	Publishers map[string]CommandConfig `json:"publishers,omitempty"` // keyed by platform type
	Health     CommandConfig            `json:"health"`
	Ingest     CommandConfig            `json:"ingest"`
}

// CommandConfig describes an adapter executable. Command[0] is the binary.
type CommandConfig struct {
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Dir     string            `json:"dir,omitempty"`
}

type NotifierConfig struct {
	Enabled    bool           `json:"enabled"`
	QueueSize  int            `json:"queue_size,omitempty"`
	RatePerSec int            `json:"rate_per_sec,omitempty"`
	Types      []string       `json:"types,omitempty"` // event type filter, "x.*" matches a prefix; empty = batch-level events
	Webhook    WebhookConfig  `json:"webhook"`
	Telegram   TelegramConfig `json:"telegram"`
}

type WebhookConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}
