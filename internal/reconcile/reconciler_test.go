package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubmatrix/internal/domain"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/storage"
	logx "pubmatrix/pkg/logx"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Reconciler, *storage.Memory, *eventbus.MemBus) {
	t.Helper()
	repo := storage.NewMemory()
	bus := eventbus.New()
	r := New(repo, logx.Nop(), bus)
	r.SetClock(func() time.Time { return t0 })
	return r, repo, bus
}

func addItem(t *testing.T, repo *storage.Memory, it domain.ContentItem) domain.ContentItem {
	t.Helper()
	if it.AccountID == nil {
		it.AccountID = domain.Ptr(int64(1))
	}
	out, err := repo.CreateItem(context.Background(), it)
	require.NoError(t, err)
	return out
}

func TestClaimIsExclusive(t *testing.T) {
	r, repo, _ := setup(t)
	ctx := context.Background()
	it := addItem(t, repo, domain.ContentItem{
		Title: "a", Status: domain.StatusScheduled, ScheduleStatus: domain.ScheduleScheduled,
		ScheduleTime: domain.Ptr(t0.Add(-time.Second)),
	})

	claimed, err := r.Claim(ctx, it, domain.EventTriggerDue)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleProcessing, claimed.ScheduleStatus)

	// a second pass working from the same stale read loses
	_, err = r.Claim(ctx, it, domain.EventTriggerDue)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClaimed))
}

func TestRecordOutcome(t *testing.T) {
	r, repo, _ := setup(t)
	ctx := context.Background()
	it := addItem(t, repo, domain.ContentItem{Title: "a"})

	_, err := r.Claim(ctx, it, domain.EventRequestPublish)
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, it.ID, false, "operation timed out after 5m0s; final state unknown"))

	got, err := repo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.Equal(t, domain.PublishFailed, got.PublishStatus)
	assert.Contains(t, got.ErrorMessage, "timed out")
	require.NotNil(t, got.PublishTime)
}

func TestRecordParksWhenStoreUnavailable(t *testing.T) {
	r, repo, _ := setup(t)
	ctx := context.Background()
	it := addItem(t, repo, domain.ContentItem{Title: "a"})
	_, err := r.Claim(ctx, it, domain.EventRequestPublish)
	require.NoError(t, err)

	repo.FailWrites = errors.New("database is locked")
	require.Error(t, r.Record(ctx, it.ID, true, ""))
	assert.Equal(t, 1, r.Pending())
	assert.True(t, r.IsPending(it.ID))

	got, _ := repo.GetItem(ctx, it.ID)
	assert.Equal(t, domain.StatusProcessing, got.Status, "state left unchanged")

	left, err := r.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, left)

	repo.FailWrites = nil
	left, err = r.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)

	got, _ = repo.GetItem(ctx, it.ID)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.Equal(t, domain.PublishSuccess, got.PublishStatus)
}

func TestRecordDropsWhenItemMovedOn(t *testing.T) {
	r, repo, _ := setup(t)
	ctx := context.Background()
	it := addItem(t, repo, domain.ContentItem{Title: "a"})

	err := r.Record(ctx, it.ID, true, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUndefinedTransition))
	assert.Zero(t, r.Pending())
}

func TestRecoverNeverResolves(t *testing.T) {
	r, repo, bus := setup(t)
	ctx := context.Background()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	direct := addItem(t, repo, domain.ContentItem{Title: "direct", Status: domain.StatusProcessing})
	sched := addItem(t, repo, domain.ContentItem{
		Title: "sched", Status: domain.StatusScheduled, ScheduleStatus: domain.ScheduleProcessing,
		ScheduleTime: domain.Ptr(t0.Add(-time.Hour)),
	})
	addItem(t, repo, domain.ContentItem{Title: "idle"})

	for range 2 {
		stranded, err := r.Recover(ctx)
		require.NoError(t, err)
		require.Len(t, stranded, 2)
	}

	got, _ := repo.GetItem(ctx, direct.ID)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	got, _ = repo.GetItem(ctx, sched.ID)
	assert.Equal(t, domain.ScheduleProcessing, got.ScheduleStatus)

	ev := <-events
	assert.Equal(t, eventbus.TypeStranded, ev.Type)
	se, ok := ev.Data.(eventbus.StrandedEvent)
	require.True(t, ok)
	assert.Contains(t, []int64{direct.ID, sched.ID}, se.ItemID)
}

func TestRecoverSkipsParkedOutcomes(t *testing.T) {
	r, repo, _ := setup(t)
	ctx := context.Background()
	it := addItem(t, repo, domain.ContentItem{Title: "a"})
	_, err := r.Claim(ctx, it, domain.EventRequestPublish)
	require.NoError(t, err)

	repo.FailWrites = errors.New("disk full")
	_ = r.Record(ctx, it.ID, true, "")
	repo.FailWrites = nil

	stranded, err := r.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, stranded)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		item  domain.ContentItem
		res   Resolution
		state domain.State
		pub   domain.PublishStatus
	}{
		{
			name:  "direct succeeded",
			item:  domain.ContentItem{Status: domain.StatusProcessing},
			res:   ResolveSucceeded,
			state: domain.State{Status: domain.StatusPublished, Schedule: domain.ScheduleNone},
			pub:   domain.PublishSuccess,
		},
		{
			name:  "direct failed",
			item:  domain.ContentItem{Status: domain.StatusProcessing},
			res:   ResolveFailed,
			state: domain.State{Status: domain.StatusPublished, Schedule: domain.ScheduleNone},
			pub:   domain.PublishFailed,
		},
		{
			name:  "direct requeue",
			item:  domain.ContentItem{Status: domain.StatusProcessing},
			res:   ResolveRequeue,
			state: domain.State{Status: domain.StatusUnpublished, Schedule: domain.ScheduleNone},
			pub:   domain.PublishNone,
		},
		{
			name: "scheduled requeue",
			item: domain.ContentItem{
				Status: domain.StatusScheduled, ScheduleStatus: domain.ScheduleProcessing,
				ScheduleTime: domain.Ptr(t0.Add(-time.Minute)),
			},
			res:   ResolveRequeue,
			state: domain.State{Status: domain.StatusScheduled, Schedule: domain.ScheduleScheduled},
			pub:   domain.PublishNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, repo, _ := setup(t)
			it := addItem(t, repo, tt.item)
			got, err := r.Resolve(context.Background(), it.ID, tt.res, "")
			require.NoError(t, err)
			assert.Equal(t, tt.state, got.State())
			assert.Equal(t, tt.pub, got.PublishStatus)
			if tt.res == ResolveFailed {
				assert.Equal(t, "resolved manually", got.ErrorMessage)
			}
		})
	}
}

func TestResolveRejectsSettledItems(t *testing.T) {
	r, repo, _ := setup(t)
	it := addItem(t, repo, domain.ContentItem{Title: "a"})
	_, err := r.Resolve(context.Background(), it.ID, ResolveSucceeded, "")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestParseResolution(t *testing.T) {
	res, err := ParseResolution(" Requeue ")
	require.NoError(t, err)
	assert.Equal(t, ResolveRequeue, res)

	_, err = ParseResolution("retry")
	assert.Error(t, err)
}
