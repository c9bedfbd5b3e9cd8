package alarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvasilev/careminder/internal/models"
)

var testBase = time.Date(2025, time.August, 14, 10, 0, 0, 0, time.UTC)

func testEntry(reminderID int64, tag string, at time.Time) Entry {
	return Entry{
		ReminderID: reminderID,
		OffsetTag:  tag,
		TriggerAt:  at,
		Replay: ReplayData{
			OwnerID: 42,
			Kind:    models.KindMedication,
			Label:   "Aspirin",
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *fakeTimer, *fakeStore) {
	t.Helper()
	clock := newFakeClock(testBase)
	timers := &fakeTimer{}
	store := newFakeStore()
	return NewRegistry(clock, timers, store), clock, timers, store
}

func TestScheduleArmsAndPersists(t *testing.T) {
	registry, _, timers, store := newTestRegistry(t)
	ctx := context.Background()

	e := testEntry(1, "", testBase.Add(time.Hour))
	require.NoError(t, registry.Schedule(ctx, e))

	require.Len(t, timers.live(), 1)
	assert.Equal(t, e.TriggerAt, timers.live()[0].at)

	stored, ok := store.get("1|")
	require.True(t, ok)
	assert.Equal(t, e.TriggerAt, stored.TriggerAt)
	assert.True(t, registry.HasPending(1))
}

func TestScheduleSameKeyKeepsOneTimer(t *testing.T) {
	registry, _, timers, store := newTestRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e := testEntry(1, "", testBase.Add(time.Duration(i)*time.Hour))
		require.NoError(t, registry.Schedule(ctx, e))
	}

	live := timers.live()
	require.Len(t, live, 1, "exactly one live timer per key")
	assert.Equal(t, testBase.Add(5*time.Hour), live[0].at)
	assert.Equal(t, 1, store.size())
}

func TestScheduleRejectsTooSoon(t *testing.T) {
	registry, _, timers, store := newTestRegistry(t)
	ctx := context.Background()

	for _, at := range []time.Time{
		testBase.Add(-time.Minute),
		testBase,
		testBase.Add(3 * time.Second),
		testBase.Add(ArmingBuffer),
	} {
		err := registry.Schedule(ctx, testEntry(1, "", at))
		require.ErrorIs(t, err, ErrTooSoon)
	}
	assert.Empty(t, timers.live())
	assert.Equal(t, 0, store.size())
}

func TestCancelAllRemovesEveryOffset(t *testing.T) {
	registry, _, timers, store := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Schedule(ctx, testEntry(1, "T-1d", testBase.Add(time.Hour))))
	require.NoError(t, registry.Schedule(ctx, testEntry(1, "T-1h", testBase.Add(2*time.Hour))))
	require.NoError(t, registry.Schedule(ctx, testEntry(1, "T-0", testBase.Add(3*time.Hour))))
	require.NoError(t, registry.Schedule(ctx, testEntry(2, "", testBase.Add(time.Hour))))

	require.NoError(t, registry.CancelAll(ctx, 1))

	assert.False(t, registry.HasPending(1))
	assert.True(t, registry.HasPending(2))
	require.Len(t, timers.live(), 1)
	assert.Equal(t, 1, store.size())
}

func TestExactDeniedFallsBackToInexact(t *testing.T) {
	registry, _, timers, _ := newTestRegistry(t)
	timers.denyExact = true
	ctx := context.Background()

	require.NoError(t, registry.Schedule(ctx, testEntry(1, "", testBase.Add(time.Hour))))

	live := timers.live()
	require.Len(t, live, 1)
	assert.True(t, live[0].inexact, "degraded mode arms an inexact timer")
}

func TestPersistFailureStillArmsCurrentCycle(t *testing.T) {
	registry, _, timers, store := newTestRegistry(t)
	store.failPuts = persistRetries
	ctx := context.Background()

	require.NoError(t, registry.Schedule(ctx, testEntry(1, "", testBase.Add(time.Hour))))

	require.Len(t, timers.live(), 1, "timer armed despite persistence failure")
	assert.Equal(t, 0, store.size())
	assert.Equal(t, persistRetries, store.puts, "every retry attempted")
}

func TestPersistRetriesUntilSuccess(t *testing.T) {
	registry, _, _, store := newTestRegistry(t)
	store.failPuts = persistRetries - 1
	ctx := context.Background()

	require.NoError(t, registry.Schedule(ctx, testEntry(1, "", testBase.Add(time.Hour))))
	assert.Equal(t, 1, store.size(), "final attempt landed")
}

func TestFiredClearsBookkeepingAndDispatches(t *testing.T) {
	registry, _, timers, store := newTestRegistry(t)
	ctx := context.Background()

	var fired []Entry
	registry.SetFireHandler(func(e Entry) { fired = append(fired, e) })

	e := testEntry(1, "", testBase.Add(time.Hour))
	require.NoError(t, registry.Schedule(ctx, e))

	timers.fireAll(testBase.Add(time.Hour))

	require.Len(t, fired, 1)
	assert.Equal(t, e.Key(), fired[0].Key())
	assert.False(t, registry.HasPending(1))
	assert.Equal(t, 0, store.size(), "persisted record removed on fire")
}

func TestStaleFireKeepsReplacementRecord(t *testing.T) {
	registry, _, timers, store := newTestRegistry(t)
	ctx := context.Background()

	var fired int
	registry.SetFireHandler(func(Entry) { fired++ })

	e1 := testEntry(1, "", testBase.Add(time.Hour))
	e2 := testEntry(1, "", testBase.Add(2*time.Hour))
	require.NoError(t, registry.Schedule(ctx, e1))
	require.NoError(t, registry.Schedule(ctx, e2))

	// Stop cannot interrupt a callback that is already running, so the old
	// timer may still deliver after the reschedule. It must not touch the
	// replacement's bookkeeping or persisted record.
	timers.handles[0].fire()

	assert.Zero(t, fired, "stale callback never dispatches")
	assert.True(t, registry.HasPending(1))
	stored, ok := store.get("1|")
	require.True(t, ok)
	assert.Equal(t, e2.TriggerAt, stored.TriggerAt)
}

func TestCancelStoppedTimerNeverFires(t *testing.T) {
	registry, _, timers, _ := newTestRegistry(t)
	ctx := context.Background()

	var fired int
	registry.SetFireHandler(func(Entry) { fired++ })

	require.NoError(t, registry.Schedule(ctx, testEntry(1, "", testBase.Add(time.Hour))))
	require.NoError(t, registry.Cancel(ctx, 1, ""))

	timers.fireAll(testBase.Add(2 * time.Hour))
	assert.Zero(t, fired)
}
