package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

// ErrInvalidTime is returned for malformed HH:MM values.
var ErrInvalidTime = errors.New("invalid time of day")

type Config struct {
	Timezone string // IANA TZ; empty or "Local" means the host zone
	// JobTimeout bounds one trigger run unless the registration sets its own.
	JobTimeout  time.Duration
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

type Job func(ctx context.Context) error

// AdaptiveFunc runs one tick and reports how much work is still pending.
type AdaptiveFunc func(ctx context.Context) (pending int, err error)

type Kind string

const (
	KindDaily    Kind = "daily"
	KindSchedule Kind = "schedule"
	KindOnce     Kind = "once"
	KindAdaptive Kind = "adaptive"
)

type cronDef struct {
	name    string
	kind    Kind
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	spread  time.Duration
	running *atomic.Bool
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type adaptiveDef struct {
	busy, idle time.Duration
	fn         AdaptiveFunc
	ver        uint64
	timer      *time.Timer
	next       time.Time
	prev       time.Time
	interval   time.Duration
	pending    int
	inFlight   bool
	kick       bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	now func() time.Time

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	defs     []cronDef
	once     map[string]*onceDef
	adaptive map[string]*adaptiveDef
	seq      uint64

	hmu     sync.Mutex
	history []HistoryItem

	failMu   sync.Mutex
	lastFail map[string]time.Time
}

type HistoryItem struct {
	Name      string        `json:"name"`
	Kind      Kind          `json:"kind"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Skipped   bool          `json:"skipped,omitempty"`
}

type ScheduleInfo struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Spec     string        `json:"spec,omitempty"`
	Next     time.Time     `json:"next"`
	Prev     time.Time     `json:"prev"`
	Interval time.Duration `json:"interval,omitempty"`
	Pending  int           `json:"pending,omitempty"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}
