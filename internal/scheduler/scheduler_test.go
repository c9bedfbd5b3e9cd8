package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvasilev/careminder/internal/alarm"
	"github.com/nvasilev/careminder/internal/models"
	"github.com/nvasilev/careminder/internal/occurrence"
)

var testNow = time.Date(2025, time.August, 14, 14, 0, 0, 0, time.UTC)

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

type stubHandle struct {
	at      time.Time
	stopped bool
}

func (h *stubHandle) Stop() { h.stopped = true }

type stubTimer struct {
	mu      sync.Mutex
	handles []*stubHandle
}

func (s *stubTimer) ScheduleExact(at time.Time, fire func()) (alarm.TimerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &stubHandle{at: at}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *stubTimer) ScheduleInexact(at time.Time, fire func()) (alarm.TimerHandle, error) {
	return s.ScheduleExact(at, fire)
}

func (s *stubTimer) liveTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Time
	for _, h := range s.handles {
		if !h.stopped {
			out = append(out, h.at)
		}
	}
	return out
}

type stubStore struct {
	mu      sync.Mutex
	entries map[string]alarm.Entry
}

func newStubStore() *stubStore { return &stubStore{entries: make(map[string]alarm.Entry)} }

func (s *stubStore) Put(ctx context.Context, e alarm.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key()] = e
	return nil
}

func (s *stubStore) Delete(ctx context.Context, reminderID int64, offsetTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, alarm.Entry{ReminderID: reminderID, OffsetTag: offsetTag}.Key())
	return nil
}

func (s *stubStore) DeleteAll(ctx context.Context, reminderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.ReminderID == reminderID {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *stubStore) List(ctx context.Context) ([]alarm.Record, error) { return nil, nil }

type stubNotifier struct{ posts, alerts int }

func (n *stubNotifier) PostNotification(ctx context.Context, ownerID int64, title, body, channel, priority string) error {
	n.posts++
	return nil
}

func (n *stubNotifier) PresentFullScreenAlert(ctx context.Context, ownerID, reminderID int64, title, body string) error {
	n.alerts++
	return nil
}

type stubReminders struct {
	byID map[int64]*models.Reminder
}

func newStubReminders(reminders ...*models.Reminder) *stubReminders {
	s := &stubReminders{byID: make(map[int64]*models.Reminder)}
	for _, r := range reminders {
		s.byID[r.ReminderID] = r
	}
	return s
}

func (s *stubReminders) GetByID(ctx context.Context, reminderID int64) (*models.Reminder, error) {
	r, ok := s.byID[reminderID]
	if !ok {
		return nil, fmt.Errorf("reminder %d not found", reminderID)
	}
	return r, nil
}

func (s *stubReminders) SetSnoozedUntil(ctx context.Context, reminderID int64, until *time.Time) error {
	if r, ok := s.byID[reminderID]; ok {
		r.SnoozedUntil = until
	}
	return nil
}

func (s *stubReminders) SetAcknowledgedAt(ctx context.Context, reminderID int64, at *time.Time) error {
	return nil
}

func (s *stubReminders) GetActive(ctx context.Context) ([]*models.Reminder, error) {
	var out []*models.Reminder
	for _, r := range s.byID {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

type fixture struct {
	timers   *stubTimer
	store    *stubStore
	notifier *stubNotifier
	registry *alarm.Registry
	svc      *Service
}

func newFixture(t *testing.T, reminders ...*models.Reminder) *fixture {
	t.Helper()
	f := &fixture{
		timers:   &stubTimer{},
		store:    newStubStore(),
		notifier: &stubNotifier{},
	}
	clock := &stubClock{now: testNow}
	src := newStubReminders(reminders...)
	f.registry = alarm.NewRegistry(clock, f.timers, f.store)
	dispatcher := alarm.NewDispatcher(clock, f.registry, src, f.notifier, 0)
	f.svc = New(clock, f.registry, dispatcher, src, time.Hour)
	return f
}

func dailyMedication() *models.Reminder {
	return &models.Reminder{
		ReminderID: 1,
		OwnerID:    42,
		Kind:       models.KindMedication,
		Label:      "Aspirin",
		Active:     true,
		TimeOfDay:  "09:00",
		Rule: &models.RecurrenceRule{
			StartDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			Frequency: models.FreqDaily,
		},
	}
}

func fridayAppointment() *models.Reminder {
	at := time.Date(2025, time.August, 15, 14, 30, 0, 0, time.UTC)
	return &models.Reminder{
		ReminderID: 2,
		OwnerID:    42,
		Kind:       models.KindAppointment,
		Label:      "Cardiologist",
		Active:     true,
		At:         &at,
	}
}

func TestOnReminderCreatedMedication(t *testing.T) {
	f := newFixture(t)
	r := dailyMedication()

	require.NoError(t, f.svc.OnReminderCreated(context.Background(), r))

	// Today's 09:00 has passed at 14:00, so tomorrow's dose is armed.
	times := f.timers.liveTimes()
	require.Len(t, times, 1)
	assert.Equal(t, time.Date(2025, time.August, 15, 9, 0, 0, 0, time.UTC), times[0])
	assert.True(t, f.registry.HasPending(1))
}

func TestOnReminderCreatedRejectsInvalidRule(t *testing.T) {
	f := newFixture(t)
	r := dailyMedication()
	r.Rule.Frequency = models.FreqWeekly // no weekdays given

	err := f.svc.OnReminderCreated(context.Background(), r)
	require.ErrorIs(t, err, models.ErrInvalidRule)
	assert.Empty(t, f.timers.liveTimes())
}

func TestOnReminderCreatedRejectsBadTimeOfDay(t *testing.T) {
	f := newFixture(t)
	r := dailyMedication()
	r.TimeOfDay = "9 o'clock"

	err := f.svc.OnReminderCreated(context.Background(), r)
	require.ErrorIs(t, err, models.ErrInvalidRule)
	assert.Empty(t, f.timers.liveTimes())
}

func TestOnReminderCreatedAppointmentFansOut(t *testing.T) {
	f := newFixture(t)
	r := fridayAppointment()

	require.NoError(t, f.svc.OnReminderCreated(context.Background(), r))

	times := f.timers.liveTimes()
	require.Len(t, times, 3)
	assert.ElementsMatch(t, []time.Time{
		time.Date(2025, time.August, 14, 14, 30, 0, 0, time.UTC),
		time.Date(2025, time.August, 15, 13, 30, 0, 0, time.UTC),
		time.Date(2025, time.August, 15, 14, 30, 0, 0, time.UTC),
	}, times)

	for _, tag := range []string{occurrence.OffsetDayBefore, occurrence.OffsetHourBefore, occurrence.OffsetNow} {
		_, ok := f.store.entries[alarm.Entry{ReminderID: 2, OffsetTag: tag}.Key()]
		assert.True(t, ok, "offset %s persisted", tag)
	}
}

func TestOnReminderUpdatedReplacesAlarms(t *testing.T) {
	f := newFixture(t)
	r := fridayAppointment()
	require.NoError(t, f.svc.OnReminderCreated(context.Background(), r))

	moved := *r.At
	moved = moved.Add(24 * time.Hour)
	r.At = &moved
	require.NoError(t, f.svc.OnReminderUpdated(context.Background(), r))

	times := f.timers.liveTimes()
	require.Len(t, times, 3)
	assert.Contains(t, times, time.Date(2025, time.August, 16, 14, 30, 0, 0, time.UTC))
}

func TestOnReminderUpdatedDeactivatedCancelsAll(t *testing.T) {
	f := newFixture(t)
	r := fridayAppointment()
	require.NoError(t, f.svc.OnReminderCreated(context.Background(), r))

	r.Active = false
	require.NoError(t, f.svc.OnReminderUpdated(context.Background(), r))

	assert.Empty(t, f.timers.liveTimes())
	assert.False(t, f.registry.HasPending(2))
}

func TestOnReminderDeletedCancelsAll(t *testing.T) {
	f := newFixture(t)
	r := fridayAppointment()
	require.NoError(t, f.svc.OnReminderCreated(context.Background(), r))

	require.NoError(t, f.svc.OnReminderDeleted(context.Background(), 2))

	assert.Empty(t, f.timers.liveTimes())
	assert.Empty(t, f.store.entries)
}

func TestReconcileSkipsElapsedAppointments(t *testing.T) {
	past := testNow.Add(-2 * time.Hour)
	r := fridayAppointment()
	r.At = &past
	f := newFixture(t, r)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	// An elapsed appointment stays in the active set but has nothing left to
	// arm; sweeps must leave it alone instead of recomputing it forever.
	f.svc.reconcile(context.Background())
	f.svc.reconcile(context.Background())

	assert.Empty(t, f.timers.handles)
	assert.NotContains(t, buf.String(), "in the past")
}

func TestReconcileRearmsDriftedReminders(t *testing.T) {
	r := dailyMedication()
	f := newFixture(t, r)

	require.False(t, f.registry.HasPending(1))
	f.svc.reconcile(context.Background())

	assert.True(t, f.registry.HasPending(1))

	// A second sweep is a no-op.
	before := len(f.timers.handles)
	f.svc.reconcile(context.Background())
	assert.Equal(t, before, len(f.timers.handles))
}
