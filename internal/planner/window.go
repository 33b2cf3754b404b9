package planner

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"pubmatrix/internal/errors"
)

// Window is a daily time range in minutes since midnight. End may be at or
// before Start; such a window is treated as one minute long.
type Window struct {
	Start int
	End   int
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, errors.Newf("window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(a)
	if err != nil {
		return Window{}, errors.Wrapf(err, "window %q", s)
	}
	end, err := parseClock(b)
	if err != nil {
		return Window{}, errors.Wrapf(err, "window %q", s)
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, errors.Newf("want HH:MM, got %q", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, errors.Newf("want HH:MM, got %q", s)
	}
	return h*60 + m, nil
}

// Bounds returns the window's start and end on the calendar day of day.
func (w Window) Bounds(day time.Time) (time.Time, time.Time) {
	y, mo, d := day.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, day.Location())
	start := midnight.Add(time.Duration(w.Start) * time.Minute)
	end := midnight.Add(time.Duration(w.End) * time.Minute)
	if !end.After(start) {
		end = start.Add(time.Minute)
	}
	return start, end
}

// RandomTime picks a uniformly random whole second inside the window on
// the given day.
func (w Window) RandomTime(day time.Time, rng *rand.Rand) time.Time {
	start, end := w.Bounds(day)
	secs := int(end.Sub(start) / time.Second)
	return start.Add(time.Duration(rng.IntN(max(secs, 1))) * time.Second)
}
