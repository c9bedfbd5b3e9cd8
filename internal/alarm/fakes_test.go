package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nvasilev/careminder/internal/models"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// fakeHandle is one armed fake timer.
type fakeHandle struct {
	at      time.Time
	fire    func()
	inexact bool
	stopped bool
}

func (h *fakeHandle) Stop() { h.stopped = true }

// fakeTimer records every arming request and lets tests fire them manually.
type fakeTimer struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	denyExact bool
}

func (f *fakeTimer) ScheduleExact(at time.Time, fire func()) (TimerHandle, error) {
	if f.denyExact {
		return nil, ErrSchedulingDenied
	}
	return f.arm(at, fire, false), nil
}

func (f *fakeTimer) ScheduleInexact(at time.Time, fire func()) (TimerHandle, error) {
	return f.arm(at, fire, true), nil
}

func (f *fakeTimer) arm(at time.Time, fire func(), inexact bool) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{at: at, fire: fire, inexact: inexact}
	f.handles = append(f.handles, h)
	return h
}

// live returns the handles that have not been stopped.
func (f *fakeTimer) live() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeHandle
	for _, h := range f.handles {
		if !h.stopped {
			out = append(out, h)
		}
	}
	return out
}

// fireAll invokes every live timer due at or before the given instant.
func (f *fakeTimer) fireAll(now time.Time) {
	for _, h := range f.live() {
		if !h.at.After(now) {
			h.Stop()
			h.fire()
		}
	}
}

// fakeStore is an in-memory alarm.Store with failure injection.
type fakeStore struct {
	mu       sync.Mutex
	entries  map[string]Entry
	extra    []Record // corrupt records appended to List
	failPuts int      // fail this many Put calls
	puts     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]Entry)}
}

func (s *fakeStore) Put(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPuts > 0 {
		s.failPuts--
		return fmt.Errorf("store unavailable")
	}
	s.entries[e.Key()] = e
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, reminderID int64, offsetTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, Entry{ReminderID: reminderID, OffsetTag: offsetTag}.Key())
	return nil
}

func (s *fakeStore) DeleteAll(ctx context.Context, reminderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.ReminderID == reminderID {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *fakeStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []Record
	for key, e := range s.entries {
		records = append(records, Record{Key: key, Entry: e})
	}
	return append(records, s.extra...), nil
}

func (s *fakeStore) get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fakeNotifier records notifications and alerts.
type notification struct {
	ownerID  int64
	title    string
	body     string
	channel  string
	priority string
}

type fakeNotifier struct {
	mu       sync.Mutex
	posts    []notification
	alerts   []notification
	alertErr error
}

func (n *fakeNotifier) PostNotification(ctx context.Context, ownerID int64, title, body, channel, priority string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, notification{ownerID, title, body, channel, priority})
	return nil
}

func (n *fakeNotifier) PresentFullScreenAlert(ctx context.Context, ownerID, reminderID int64, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.alertErr != nil {
		return n.alertErr
	}
	n.alerts = append(n.alerts, notification{ownerID: ownerID, title: title, body: body})
	return nil
}

// fakeReminders is an in-memory alarm.ReminderStore.
type fakeReminders struct {
	mu        sync.Mutex
	reminders map[int64]*models.Reminder
	getErr    error
}

func newFakeReminders(reminders ...*models.Reminder) *fakeReminders {
	f := &fakeReminders{reminders: make(map[int64]*models.Reminder)}
	for _, r := range reminders {
		f.reminders[r.ReminderID] = r
	}
	return f
}

func (f *fakeReminders) GetByID(ctx context.Context, reminderID int64) (*models.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.reminders[reminderID]
	if !ok {
		return nil, fmt.Errorf("reminder %d not found", reminderID)
	}
	copied := *r
	return &copied, nil
}

func (f *fakeReminders) SetSnoozedUntil(ctx context.Context, reminderID int64, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reminders[reminderID]; ok {
		r.SnoozedUntil = until
	}
	return nil
}

func (f *fakeReminders) SetAcknowledgedAt(ctx context.Context, reminderID int64, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reminders[reminderID]; ok {
		r.AcknowledgedAt = at
	}
	return nil
}
