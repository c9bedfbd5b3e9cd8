package alarm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	persistRetries = 3
	persistBackoff = 100 * time.Millisecond
)

type liveEntry struct {
	entry  Entry
	handle TimerHandle
}

// Registry maps (reminderID, offsetTag) keys to armed native timers and
// their persisted records. It guarantees at most one live timer per key and
// serializes all mutations behind one mutex; reschedules are atomic with
// respect to concurrent edits and host callbacks.
type Registry struct {
	clock  Clock
	timers TimerPort
	store  Store

	mu      sync.Mutex
	entries map[string]*liveEntry
	onFire  func(Entry)
}

func NewRegistry(clock Clock, timers TimerPort, store Store) *Registry {
	return &Registry{
		clock:   clock,
		timers:  timers,
		store:   store,
		entries: make(map[string]*liveEntry),
	}
}

// SetFireHandler registers the callback invoked when an armed timer fires.
// Must be called before the first Schedule.
func (g *Registry) SetFireHandler(fn func(Entry)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onFire = fn
}

// Schedule arms a wake-up for the entry, replacing any previous timer for
// the same key. The persisted record is written (and flushed) before the
// native timer is armed, so a crash in between leaves a recoverable record
// rather than an orphan timer.
func (g *Registry) Schedule(ctx context.Context, e Entry) error {
	now := g.clock.Now()
	if !e.TriggerAt.After(now.Add(ArmingBuffer)) {
		return fmt.Errorf("%w: %s at %s", ErrTooSoon, e.Key(), e.TriggerAt.Format(time.RFC3339))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.persistWithRetry(ctx, e); err != nil {
		// The in-memory timer is still armed below so the current cycle
		// fires; only recovery after a restart would miss this entry.
		log.Printf("Failed to persist alarm %s, continuing without durable record: %v", e.Key(), err)
	}

	handle, err := g.arm(e)
	if err != nil {
		return fmt.Errorf("failed to arm timer for %s: %w", e.Key(), err)
	}

	// Arm the replacement before stopping the old timer so a firing is
	// never lost mid-reschedule.
	if old, ok := g.entries[e.Key()]; ok {
		old.handle.Stop()
	}
	g.entries[e.Key()] = &liveEntry{entry: e, handle: handle}
	return nil
}

func (g *Registry) arm(e Entry) (TimerHandle, error) {
	fire := func() { g.fired(e) }
	handle, err := g.timers.ScheduleExact(e.TriggerAt, fire)
	if errors.Is(err, ErrSchedulingDenied) {
		log.Printf("Exact alarms denied by host, falling back to inexact scheduling for %s", e.Key())
		return g.timers.ScheduleInexact(e.TriggerAt, fire)
	}
	return handle, err
}

func (g *Registry) persistWithRetry(ctx context.Context, e Entry) error {
	var err error
	for attempt := 0; attempt < persistRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(persistBackoff << (attempt - 1))
		}
		if err = g.store.Put(ctx, e); err == nil {
			return nil
		}
	}
	return err
}

// fired removes the entry's bookkeeping and persisted record, then hands it
// to the dispatcher. Runs on the timer port's goroutine. A callback already
// executing when its key was rescheduled or cancelled (Stop cannot interrupt
// a running timer) finds a mismatched entry and must touch nothing: the
// replacement's persisted record belongs to the new timer.
func (g *Registry) fired(e Entry) {
	g.mu.Lock()
	live, ok := g.entries[e.Key()]
	current := ok && live.entry.TriggerAt.Equal(e.TriggerAt)
	if current {
		delete(g.entries, e.Key())
	}
	onFire := g.onFire
	g.mu.Unlock()

	if !current {
		log.Printf("Ignoring stale timer callback for %s", e.Key())
		return
	}

	if err := g.store.Delete(context.Background(), e.ReminderID, e.OffsetTag); err != nil {
		log.Printf("Failed to remove fired alarm record %s: %v", e.Key(), err)
	}

	if onFire != nil {
		onFire(e)
	}
}

// Cancel stops and forgets one entry. It is not an error if no entry exists
// for the key.
func (g *Registry) Cancel(ctx context.Context, reminderID int64, offsetTag string) error {
	key := Entry{ReminderID: reminderID, OffsetTag: offsetTag}.Key()

	g.mu.Lock()
	if live, ok := g.entries[key]; ok {
		live.handle.Stop()
		delete(g.entries, key)
	}
	g.mu.Unlock()

	return g.store.Delete(ctx, reminderID, offsetTag)
}

// CancelAll stops and forgets every entry for a reminder. Used on delete
// and deactivate; no stale alarm may fire afterwards.
func (g *Registry) CancelAll(ctx context.Context, reminderID int64) error {
	g.mu.Lock()
	for key, live := range g.entries {
		if live.entry.ReminderID == reminderID {
			live.handle.Stop()
			delete(g.entries, key)
		}
	}
	g.mu.Unlock()

	return g.store.DeleteAll(ctx, reminderID)
}

// HasPending reports whether any timer is armed for the reminder.
func (g *Registry) HasPending(reminderID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, live := range g.entries {
		if live.entry.ReminderID == reminderID {
			return true
		}
	}
	return false
}

// Pending returns a snapshot of all armed entries.
func (g *Registry) Pending() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Entry, 0, len(g.entries))
	for _, live := range g.entries {
		out = append(out, live.entry)
	}
	return out
}

// LoadPersisted returns the persisted alarm records. Used only by recovery.
func (g *Registry) LoadPersisted(ctx context.Context) ([]Record, error) {
	return g.store.List(ctx)
}
