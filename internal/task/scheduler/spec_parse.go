package scheduler

import (
	"strconv"
	"strings"
	"time"

	"pubmatrix/internal/errors"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a normalized schedule string.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 9 * * *" (with seconds), "@hourly", "@every 6h"
//   - interval: "55m", "2h30m"
//
// A "cron:" or "every:" prefix forces the kind.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}
	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		if rest == "" {
			return ParsedSpec{}, errors.New("cron expression required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: rest}, nil
	}
	if rest, ok := cutPrefixFold(s, "every:"); ok {
		return parseEvery(rest)
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	ps, err := parseEvery(s)
	if err != nil {
		return ParsedSpec{}, errors.WithHint(
			errors.Newf("invalid schedule %q", raw),
			"use a cron expression like '0 */6 * * *', a descriptor like '@every 6h', or a duration like '55m'",
		)
	}
	return ps, nil
}

func parseEvery(v string) (ParsedSpec, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return ParsedSpec{}, errors.Wrapf(err, "interval %q", v)
	}
	if d <= 0 {
		return ParsedSpec{}, errors.Newf("interval %q must be > 0", v)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

// parseHHMM parses a wall-clock time of day.
func parseHHMM(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, errors.Mark(errors.Newf("%q: expected HH:MM", s), ErrInvalidTime)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.Mark(errors.Newf("invalid hour in %q", s), ErrInvalidTime)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return 0, 0, errors.Mark(errors.Newf("invalid minute in %q", s), ErrInvalidTime)
	}
	return hour, minute, nil
}
