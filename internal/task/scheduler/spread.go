package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// maxStartupSpread caps the random delay added to the first run of an
// interval trigger, so triggers registered together do not fire together.
const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first and then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (d *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.base.Next(t)
}

func spreadInterval(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return base, 0
	}
	jitter := rand.N(limit)
	return &delayedFirst{base: base, first: now.Add(every + jitter)}, jitter
}
