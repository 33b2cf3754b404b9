package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubmatrix/internal/errors"
)

var (
	unpublished = State{StatusUnpublished, ScheduleNone}
	scheduled   = State{StatusScheduled, ScheduleScheduled}
	claimedSch  = State{StatusScheduled, ScheduleProcessing}
	claimedDir  = State{StatusProcessing, ScheduleNone}
	published   = State{StatusPublished, ScheduleNone}
	hidden      = State{StatusHidden, ScheduleNone}
)

// itemIn builds a well-formed item in st with a due schedule time.
func itemIn(st State, now time.Time) ContentItem {
	it := ContentItem{ID: 7, Title: "t", Status: st.Status, ScheduleStatus: st.Schedule, AccountID: Ptr(int64(1)), PublishStatus: PublishNone}
	if st.Schedule != ScheduleNone {
		it.ScheduleTime = Ptr(now.Add(-time.Second))
	}
	if st.Status == StatusPublished || st.Status == StatusHidden {
		it.PublishStatus = PublishSuccess
		it.PublishTime = Ptr(now.Add(-time.Hour))
	}
	return it
}

func TestTransitionTableIsTotal(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	defined := map[State]map[EventKind]State{
		unpublished: {
			EventRequestPublish:  claimedDir,
			EventRequestSchedule: scheduled,
		},
		scheduled: {
			EventTriggerDue: claimedSch,
			EventCancel:     unpublished,
		},
		claimedSch: {
			EventSucceeded: published,
			EventFailed:    published,
			EventRequeue:   scheduled,
		},
		claimedDir: {
			EventSucceeded: published,
			EventFailed:    published,
			EventRequeue:   unpublished,
		},
		published: {
			EventReturnToDraft: unpublished,
			EventHide:          hidden,
		},
		hidden: {},
	}

	for _, st := range States() {
		for _, kind := range EventKinds() {
			st, kind := st, kind
			t.Run(st.String()+"+"+string(kind), func(t *testing.T) {
				item := itemIn(st, now)
				next, err := Transition(item, Event{Kind: kind, At: now.Add(time.Hour), Message: "boom"}, now)

				want, ok := defined[st][kind]
				if !ok {
					require.Error(t, err)
					assert.True(t, errors.Is(err, ErrUndefinedTransition), "got %v", err)
					assert.Equal(t, item, next, "rejected events must not modify the item")
					return
				}
				require.NoError(t, err)
				assert.Equal(t, want, next.State())
				assert.Equal(t, next.ScheduleStatus != ScheduleNone, next.ScheduleTime != nil, "schedule time set iff schedule status")
			})
		}
	}
}

func TestOutcomeFields(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ok, err := Transition(itemIn(claimedSch, now), Event{Kind: EventSucceeded}, now)
	require.NoError(t, err)
	assert.Equal(t, PublishSuccess, ok.PublishStatus)
	assert.Equal(t, now, *ok.PublishTime)
	assert.Nil(t, ok.ScheduleTime)
	assert.Empty(t, ok.ErrorMessage)

	failed, err := Transition(itemIn(claimedDir, now), Event{Kind: EventFailed, Message: "element not found"}, now)
	require.NoError(t, err)
	assert.Equal(t, PublishFailed, failed.PublishStatus)
	assert.Equal(t, "element not found", failed.ErrorMessage)
}

func TestReturnToDraftClearsPublication(t *testing.T) {
	now := time.Now()
	it := itemIn(published, now)
	it.PublishStatus = PublishFailed
	it.ErrorMessage = "operation timed out"

	next, err := Transition(it, Event{Kind: EventReturnToDraft}, now)
	require.NoError(t, err)
	assert.Equal(t, PublishNone, next.PublishStatus)
	assert.Nil(t, next.PublishTime)
	assert.Empty(t, next.ErrorMessage)
}

func TestTriggerDueRejectsFutureItems(t *testing.T) {
	now := time.Now()
	it := itemIn(scheduled, now)
	it.ScheduleTime = Ptr(now.Add(10 * time.Hour))

	_, err := Transition(it, Event{Kind: EventTriggerDue}, now)
	assert.True(t, errors.Is(err, ErrUndefinedTransition))
}

func TestPublishRequiresAccount(t *testing.T) {
	now := time.Now()
	it := itemIn(unpublished, now)
	it.AccountID = nil

	_, err := Transition(it, Event{Kind: EventRequestPublish}, now)
	require.Error(t, err)
	_, err = Transition(it, Event{Kind: EventRequestSchedule, At: now}, now)
	require.Error(t, err)
}

func TestParseHealthStatus(t *testing.T) {
	assert.Equal(t, HealthHealthy, ParseHealthStatus("Healthy"))
	assert.Equal(t, HealthUnhealthy, ParseHealthStatus(" unhealthy "))
	assert.Equal(t, HealthInconclusive, ParseHealthStatus("maybe"))
	assert.Equal(t, HealthInconclusive, ParseHealthStatus(""))
}
