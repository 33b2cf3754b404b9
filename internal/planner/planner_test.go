package planner

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubmatrix/internal/domain"
)

func fixedRNG() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow(" 09:00-11:30 ")
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 540, End: 690}, w)
	assert.Equal(t, "09:00-11:30", w.String())

	for _, bad := range []string{"09:00", "9-10", "25:00-26:00", "09:00-10:61"} {
		_, err := ParseWindow(bad)
		assert.Error(t, err, bad)
	}
}

func TestRandomTimeStaysInWindow(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	w := Window{Start: 9 * 60, End: 11 * 60}
	rng := fixedRNG()
	for range 200 {
		got := w.RandomTime(day, rng)
		assert.False(t, got.Before(day.Add(9*time.Hour)))
		assert.True(t, got.Before(day.Add(11*time.Hour)))
		assert.Zero(t, got.Nanosecond())
	}
}

func TestInvertedWindowIsOneMinute(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	w := Window{Start: 14 * 60, End: 13 * 60}
	start, end := w.Bounds(day)
	assert.Equal(t, time.Minute, end.Sub(start))
	got := w.RandomTime(day, fixedRNG())
	assert.True(t, !got.Before(start) && got.Before(end))
}

func TestContentDate(t *testing.T) {
	today := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		title string
		want  time.Time
		ok    bool
	}{
		{title: "3月2日 早市行情", want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), ok: true},
		{title: "report 2025-12-30 final", want: time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC), ok: true},
		{title: "digest 03-01", want: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ok: true},
		{title: "12月31日 年终", want: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), ok: true},
		{title: "2月30日", ok: false},
		{title: "no date here", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, ok := ContentDate(tt.title, today)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestQuotaOnPeakDays(t *testing.T) {
	p, err := New(Config{Windows: []string{"09:00-10:00"}}, fixedRNG())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quota(time.Monday))
	assert.Equal(t, 3, p.Quota(time.Sunday))
	assert.Equal(t, 2, p.Quota(time.Wednesday))
}

func TestNewRejectsTooManyWindows(t *testing.T) {
	_, err := New(Config{Windows: []string{"01:00-02:00", "03:00-04:00", "05:00-06:00", "07:00-08:00"}}, nil)
	assert.Error(t, err)
}

func item(id, acc int64, title string) domain.ContentItem {
	it := domain.ContentItem{
		ID: id, Title: title,
		Status: domain.StatusUnpublished, ScheduleStatus: domain.ScheduleNone, PublishStatus: domain.PublishNone,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if acc > 0 {
		it.AccountID = domain.Ptr(acc)
	}
	return it
}

func TestPlanAssignsWindowsOldestFirst(t *testing.T) {
	// Wednesday 08:00: quota 2, both windows still ahead today
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	p, err := New(Config{Windows: []string{"09:00-11:00", "14:00-16:00", "19:00-21:00"}}, fixedRNG())
	require.NoError(t, err)

	items := []domain.ContentItem{
		item(1, 10, "3月3日 a"),
		item(2, 10, "3月1日 b"),
		item(3, 10, "3月2日 c"),
		item(4, 20, "3月4日 d"),
		item(5, 0, "3月4日 no account"),
		item(6, 20, "2月1日 too old"),
		item(7, 20, "3月9日 future"),
	}
	sched := item(8, 20, "3月4日 already scheduled")
	sched.Status, sched.ScheduleStatus = domain.StatusScheduled, domain.ScheduleScheduled
	sched.ScheduleTime = domain.Ptr(now.Add(time.Hour))
	items = append(items, sched)

	slots, skips := p.Plan(now, items)
	require.Len(t, slots, 3)

	assert.Equal(t, int64(2), slots[0].ItemID)
	assert.Equal(t, int64(3), slots[1].ItemID)
	assert.Equal(t, int64(4), slots[2].ItemID)
	assert.Equal(t, "09:00-11:00", slots[0].Window.String())
	assert.Equal(t, "14:00-16:00", slots[1].Window.String())
	assert.Equal(t, "09:00-11:00", slots[2].Window.String())
	for _, s := range slots {
		assert.True(t, s.RunAt.After(now))
		assert.Equal(t, 4, s.RunAt.Day())
	}

	reasons := map[int64]string{}
	for _, s := range skips {
		reasons[s.ItemID] = s.Reason
	}
	assert.Equal(t, "account quota reached for today", reasons[1])
	assert.Equal(t, "no account assigned", reasons[5])
	assert.Equal(t, "content older than days window", reasons[6])
	assert.NotContains(t, reasons, int64(8))
}

func TestPlanUsesPeakQuotaAndRollsPastWindowsToTomorrow(t *testing.T) {
	// Monday 12:00: peak quota 3, first window already over
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p, err := New(Config{Windows: []string{"09:00-11:00", "14:00-16:00", "19:00-21:00"}}, fixedRNG())
	require.NoError(t, err)

	slots, _ := p.Plan(now, []domain.ContentItem{
		item(1, 10, "3月1日 a"),
		item(2, 10, "3月1日 b"),
		item(3, 10, "3月2日 c"),
	})
	require.Len(t, slots, 3)
	assert.Equal(t, 3, slots[0].RunAt.Day(), "passed window moves to tomorrow")
	assert.Equal(t, 2, slots[1].RunAt.Day())
	assert.Equal(t, 2, slots[2].RunAt.Day())
	assert.Equal(t, []int64{1, 2, 3}, []int64{slots[0].ItemID, slots[1].ItemID, slots[2].ItemID})
}

func TestPlanFallsBackToCreationDate(t *testing.T) {
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	p, err := New(Config{Windows: []string{"09:00-11:00"}}, fixedRNG())
	require.NoError(t, err)

	fresh := item(1, 10, "untitled")
	fresh.CreatedAt = now.Add(-24 * time.Hour)
	stale := item(2, 11, "untitled")

	slots, skips := p.Plan(now, []domain.ContentItem{fresh, stale})
	require.Len(t, slots, 1)
	assert.Equal(t, int64(1), slots[0].ItemID)
	require.Len(t, skips, 1)
	assert.Equal(t, int64(2), skips[0].ItemID)
}

func TestPlanWithoutWindowsIsEmpty(t *testing.T) {
	p, err := New(Config{}, fixedRNG())
	require.NoError(t, err)
	slots, skips := p.Plan(time.Now(), []domain.ContentItem{item(1, 1, "3月1日")})
	assert.Empty(t, slots)
	assert.Empty(t, skips)
}
