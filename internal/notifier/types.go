package notifier

import (
	"context"
	"strings"
	"time"

	"pubmatrix/internal/eventbus"
)

type Config struct {
	Enabled    bool
	QueueSize  int
	RatePerSec int
	Types      []string
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	return c
}

// DefaultTypes are forwarded when Config.Types is empty.
var DefaultTypes = []string{
	eventbus.TypePublishBatch,
	eventbus.TypePublishTick,
	eventbus.TypePublishPlanned,
	eventbus.TypeStranded,
	eventbus.TypeHealthChecked,
	eventbus.TypeJobTimedOut,
	eventbus.TypeDailyKickoff,
}

// Message is what a sink receives.
type Message struct {
	Type string    `json:"type"`
	Time time.Time `json:"timestamp"`
	Text string    `json:"text"`
	Data any       `json:"data,omitempty"`
}

type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Type  string    `json:"type"`
	Sink  string    `json:"sink"`
	Error string    `json:"error,omitempty"`
}

type filter []string

func (f filter) match(typ string) bool {
	for _, p := range f {
		if rest, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(typ, rest) {
				return true
			}
			continue
		}
		if p == typ {
			return true
		}
	}
	return false
}
