// Package planner picks publish slots for unscheduled content.
//
// Each account gets at most quota items per day, oldest content first, one
// per configured time window. The slot inside a window is random so posts
// from many accounts do not land on the same second.
package planner

import (
	"math/rand/v2"
	"sort"
	"time"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
)

const MaxWindows = 3

type Config struct {
	Windows    []string
	DaysWindow int
	DailyQuota int
	PeakQuota  int
	PeakDays   []time.Weekday
}

func (c Config) withDefaults() Config {
	if c.DaysWindow <= 0 {
		c.DaysWindow = 4
	}
	if c.DailyQuota <= 0 {
		c.DailyQuota = 2
	}
	if c.PeakQuota <= 0 {
		c.PeakQuota = 3
	}
	if c.PeakDays == nil {
		c.PeakDays = []time.Weekday{time.Monday, time.Sunday}
	}
	return c
}

// Slot is one planned publish.
type Slot struct {
	ItemID      int64
	AccountID   int64
	Window      Window
	RunAt       time.Time
	ContentDate time.Time
}

// Skip explains why an item was left out of a plan.
type Skip struct {
	ItemID int64
	Reason string
}

type Planner struct {
	cfg     Config
	windows []Window
	rng     *rand.Rand
}

// New validates cfg. A nil rng uses a randomly seeded source.
func New(cfg Config, rng *rand.Rand) (*Planner, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Windows) > MaxWindows {
		return nil, errors.Newf("at most %d windows, got %d", MaxWindows, len(cfg.Windows))
	}
	ws := make([]Window, 0, len(cfg.Windows))
	for _, raw := range cfg.Windows {
		w, err := ParseWindow(raw)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Planner{cfg: cfg, windows: ws, rng: rng}, nil
}

func (p *Planner) Windows() []Window { return append([]Window(nil), p.windows...) }

// Quota is the per-account item limit for the given day.
func (p *Planner) Quota(day time.Weekday) int {
	for _, d := range p.cfg.PeakDays {
		if d == day {
			return p.cfg.PeakQuota
		}
	}
	return p.cfg.DailyQuota
}

type candidate struct {
	item domain.ContentItem
	date time.Time
}

// Plan assigns slots to eligible items as of now. Eligible means
// unpublished, bound to an account, not scheduled, and dated within the
// days window. It does not touch the repository.
func (p *Planner) Plan(now time.Time, items []domain.ContentItem) ([]Slot, []Skip) {
	var skips []Skip
	if len(p.windows) == 0 {
		return nil, nil
	}

	var cands []candidate
	for _, it := range items {
		if it.State() != (domain.State{Status: domain.StatusUnpublished, Schedule: domain.ScheduleNone}) || it.ScheduleTime != nil {
			continue
		}
		if !it.HasAccount() {
			skips = append(skips, Skip{ItemID: it.ID, Reason: "no account assigned"})
			continue
		}
		date, ok := ContentDate(it.Title, now)
		if !ok {
			date = dateOf(it.CreatedAt.In(now.Location()))
		}
		age := daysBetween(date, now)
		switch {
		case age < 0:
			skips = append(skips, Skip{ItemID: it.ID, Reason: "content dated in the future"})
			continue
		case age > p.cfg.DaysWindow:
			skips = append(skips, Skip{ItemID: it.ID, Reason: "content older than days window"})
			continue
		}
		cands = append(cands, candidate{item: it, date: date})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if !cands[i].date.Equal(cands[j].date) {
			return cands[i].date.Before(cands[j].date)
		}
		return cands[i].item.ID < cands[j].item.ID
	})

	perAcc := map[int64][]candidate{}
	var order []int64
	for _, c := range cands {
		acc := *c.item.AccountID
		if _, ok := perAcc[acc]; !ok {
			order = append(order, acc)
		}
		perAcc[acc] = append(perAcc[acc], c)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	limit := min(p.Quota(now.Weekday()), len(p.windows))
	var slots []Slot
	for _, acc := range order {
		for idx, c := range perAcc[acc] {
			if idx >= limit {
				skips = append(skips, Skip{ItemID: c.item.ID, Reason: "account quota reached for today"})
				continue
			}
			w := p.windows[idx]
			run := w.RandomTime(now, p.rng)
			if !run.After(now) {
				run = w.RandomTime(now.AddDate(0, 0, 1), p.rng)
			}
			slots = append(slots, Slot{ItemID: c.item.ID, AccountID: acc, Window: w, RunAt: run, ContentDate: c.date})
		}
	}
	return slots, skips
}
