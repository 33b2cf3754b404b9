package planner

import (
	"regexp"
	"strconv"
	"time"
)

var (
	reCNDate  = regexp.MustCompile(`(\d{1,2})月(\d{1,2})日`)
	reISODate = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	reMMDD    = regexp.MustCompile(`(?:^|\D)(\d{1,2})-(\d{1,2})(?:\D|$)`)
)

// ContentDate extracts the date a title refers to. Titles without a year
// resolve to the most recent such date not after today. It returns false
// when the title carries no valid date.
func ContentDate(title string, today time.Time) (time.Time, bool) {
	loc := today.Location()
	if m := reISODate.FindStringSubmatch(title); m != nil {
		if d, ok := mkDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), loc); ok {
			return d, true
		}
	}
	for _, re := range []*regexp.Regexp{reCNDate, reMMDD} {
		m := re.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		mo, day := atoi(m[1]), atoi(m[2])
		d, ok := mkDate(today.Year(), mo, day, loc)
		if !ok {
			continue
		}
		if d.After(dateOf(today)) {
			if prev, ok := mkDate(today.Year()-1, mo, day, loc); ok {
				d = prev
			}
		}
		return d, true
	}
	return time.Time{}, false
}

func mkDate(y, m, d int, loc *time.Location) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	// time.Date normalizes Feb 30 into March; reject that
	if t.Month() != time.Month(m) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b.
func daysBetween(a, b time.Time) int {
	a, b = dateOf(a), dateOf(b)
	// Round absorbs DST shifts between the two midnights
	return int(b.Sub(a).Round(24*time.Hour) / (24 * time.Hour))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
