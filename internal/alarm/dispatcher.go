package alarm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nvasilev/careminder/internal/models"
	"github.com/nvasilev/careminder/internal/occurrence"
)

// DefaultSnooze is how far a snoozed reminder is pushed back.
const DefaultSnooze = 5 * time.Minute

// dedupeWindow bounds how long a delivered firing is remembered. Host
// environments may redeliver the same callback; within the window a second
// delivery is a no-op.
const dedupeWindow = 24 * time.Hour

// Dispatcher handles fired alarms: it picks the escalation tier, emits the
// notification, and re-arms recurring reminders for their next occurrence.
// It also consumes the snooze/dismiss user actions.
type Dispatcher struct {
	clock     Clock
	registry  *Registry
	reminders ReminderStore
	notifier  Notifier
	snoozeFor time.Duration

	mu        sync.Mutex
	delivered map[string]time.Time
}

func NewDispatcher(clock Clock, registry *Registry, reminders ReminderStore, notifier Notifier, snoozeFor time.Duration) *Dispatcher {
	if snoozeFor <= 0 {
		snoozeFor = DefaultSnooze
	}
	d := &Dispatcher{
		clock:     clock,
		registry:  registry,
		reminders: reminders,
		notifier:  notifier,
		snoozeFor: snoozeFor,
		delivered: make(map[string]time.Time),
	}
	registry.SetFireHandler(func(e Entry) {
		d.HandleFired(context.Background(), e)
	})
	return d
}

// ReplayFrom extracts the persisted rendering subset of a reminder.
func ReplayFrom(r *models.Reminder) ReplayData {
	return ReplayData{
		OwnerID: r.OwnerID,
		Kind:    r.Kind,
		Label:   r.Label,
		Detail:  r.Detail,
	}
}

// HandleFired is the host callback for a fired wake-up. Safe to invoke more
// than once for the same (reminder, offset, instant); only the first
// delivery has user-visible effects.
func (d *Dispatcher) HandleFired(ctx context.Context, e Entry) {
	if !d.markDelivered(e) {
		log.Printf("Ignoring duplicate delivery of alarm %s at %s", e.Key(), e.TriggerAt.Format(time.RFC3339))
		return
	}

	r, err := d.reminders.GetByID(ctx, e.ReminderID)
	if err != nil {
		// Render from the persisted replay data so the user still gets
		// notified; re-arming waits for the reconcile sweep.
		log.Printf("Failed to load reminder %d for fired alarm, using replay data: %v", e.ReminderID, err)
		d.notifyFromReplay(ctx, e)
		return
	}
	if !r.Active {
		log.Printf("Ignoring fired alarm %s for inactive reminder", e.Key())
		return
	}

	switch r.Kind {
	case models.KindMedication:
		d.fireMedication(ctx, r, e)
	case models.KindAppointment:
		d.fireAppointment(ctx, r, e)
	default:
		log.Printf("Fired alarm %s has unknown kind %q", e.Key(), r.Kind)
	}
}

func (d *Dispatcher) fireMedication(ctx context.Context, r *models.Reminder, e Entry) {
	title := r.Label
	body := "Time to take your medication: " + r.Label
	if r.Detail != "" {
		body += " (" + r.Detail + ")"
	}

	if r.Critical() {
		if err := d.notifier.PresentFullScreenAlert(ctx, r.OwnerID, r.ReminderID, title, body); err != nil {
			log.Printf("Failed to present full-screen alert for reminder %d: %v", r.ReminderID, err)
		}
	}
	// The passive notification always goes out, as fallback and as record.
	if err := d.notifier.PostNotification(ctx, r.OwnerID, title, body, ChannelMedication, PriorityHigh); err != nil {
		log.Printf("Failed to post notification for reminder %d: %v", r.ReminderID, err)
	}

	// A snooze that produced this firing is consumed exactly once.
	if r.SnoozedUntil != nil && !r.SnoozedUntil.After(e.TriggerAt) {
		if err := d.reminders.SetSnoozedUntil(ctx, r.ReminderID, nil); err != nil {
			log.Printf("Failed to clear snooze on reminder %d: %v", r.ReminderID, err)
		}
		r.SnoozedUntil = nil
	}

	// Re-arm from the later of the fired instant and the wall clock. A
	// replayed alarm may be days old; scanning from its trigger would walk
	// through every missed occurrence one immediate dispatch at a time.
	ref := e.TriggerAt.Add(time.Second)
	if now := d.clock.Now(); ref.Before(now) {
		ref = now
	}
	next, err := occurrence.NextTrigger(r, ref)
	if err != nil {
		log.Printf("Failed to compute next occurrence for reminder %d: %v", r.ReminderID, err)
		return
	}
	if next == nil {
		log.Printf("Reminder %d has no further occurrences", r.ReminderID)
		return
	}
	d.armOrFire(ctx, Entry{
		ReminderID: r.ReminderID,
		OffsetTag:  occurrence.OffsetNone,
		TriggerAt:  *next,
		Replay:     ReplayFrom(r),
	})
}

func (d *Dispatcher) fireAppointment(ctx context.Context, r *models.Reminder, e Entry) {
	priority := PriorityDefault
	if e.OffsetTag == occurrence.OffsetNow {
		priority = PriorityHigh
	}
	body := OffsetMessage(e.OffsetTag)
	if r.Detail != "" {
		body += " " + r.Detail
	}
	if err := d.notifier.PostNotification(ctx, r.OwnerID, r.Label, body, ChannelAppointment, priority); err != nil {
		log.Printf("Failed to post notification for appointment %d: %v", r.ReminderID, err)
	}
	// Appointments never re-arm.
}

// OffsetMessage returns the lead-time specific message for an appointment
// alarm.
func OffsetMessage(tag string) string {
	switch tag {
	case occurrence.OffsetDayBefore:
		return "Your appointment is tomorrow!"
	case occurrence.OffsetHourBefore:
		return "Your appointment is in 1 hour!"
	default:
		return "Your appointment is now."
	}
}

// Snooze delays the current firing of a critical reminder by the snooze
// duration. The reminder's regular next occurrence is untouched.
func (d *Dispatcher) Snooze(ctx context.Context, reminderID int64) error {
	r, err := d.reminders.GetByID(ctx, reminderID)
	if err != nil {
		return fmt.Errorf("failed to load reminder %d: %w", reminderID, err)
	}
	if !r.Active {
		return fmt.Errorf("reminder %d is no longer active", reminderID)
	}

	until := d.clock.Now().Add(d.snoozeFor)
	if err := d.reminders.SetSnoozedUntil(ctx, reminderID, &until); err != nil {
		return fmt.Errorf("failed to record snooze for reminder %d: %w", reminderID, err)
	}

	d.armOrFire(ctx, Entry{
		ReminderID: reminderID,
		OffsetTag:  occurrence.OffsetNone,
		TriggerAt:  until,
		Replay:     ReplayFrom(r),
	})
	log.Printf("Snoozed reminder %d until %s", reminderID, until.Format("15:04:05"))
	return nil
}

// Dismiss acknowledges a fired reminder and clears any pending snooze.
func (d *Dispatcher) Dismiss(ctx context.Context, reminderID int64) error {
	now := d.clock.Now()
	if err := d.reminders.SetAcknowledgedAt(ctx, reminderID, &now); err != nil {
		return fmt.Errorf("failed to acknowledge reminder %d: %w", reminderID, err)
	}
	if err := d.reminders.SetSnoozedUntil(ctx, reminderID, nil); err != nil {
		return fmt.Errorf("failed to clear snooze on reminder %d: %w", reminderID, err)
	}
	return nil
}

// armOrFire schedules the entry, falling through to immediate dispatch when
// the instant is inside the arming buffer.
func (d *Dispatcher) armOrFire(ctx context.Context, e Entry) {
	err := d.registry.Schedule(ctx, e)
	if err == nil {
		return
	}
	if errors.Is(err, ErrTooSoon) {
		d.HandleFired(ctx, e)
		return
	}
	log.Printf("Failed to schedule alarm %s: %v", e.Key(), err)
}

func (d *Dispatcher) notifyFromReplay(ctx context.Context, e Entry) {
	rd := e.Replay
	switch rd.Kind {
	case models.KindAppointment:
		priority := PriorityDefault
		if e.OffsetTag == occurrence.OffsetNow {
			priority = PriorityHigh
		}
		body := OffsetMessage(e.OffsetTag)
		if rd.Detail != "" {
			body += " " + rd.Detail
		}
		if err := d.notifier.PostNotification(ctx, rd.OwnerID, rd.Label, body, ChannelAppointment, priority); err != nil {
			log.Printf("Failed to post replay notification for %s: %v", e.Key(), err)
		}
	default:
		body := "Time to take your medication: " + rd.Label
		if rd.Detail != "" {
			body += " (" + rd.Detail + ")"
		}
		if err := d.notifier.PresentFullScreenAlert(ctx, rd.OwnerID, e.ReminderID, rd.Label, body); err != nil {
			log.Printf("Failed to present replay alert for %s: %v", e.Key(), err)
		}
		if err := d.notifier.PostNotification(ctx, rd.OwnerID, rd.Label, body, ChannelMedication, PriorityHigh); err != nil {
			log.Printf("Failed to post replay notification for %s: %v", e.Key(), err)
		}
	}
}

// markDelivered records a delivery and reports whether it was the first for
// this (reminder, offset, instant) key.
func (d *Dispatcher) markDelivered(e Entry) bool {
	key := fmt.Sprintf("%s|%d", e.Key(), e.TriggerAt.Unix())
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.delivered {
		if now.Sub(at) > dedupeWindow {
			delete(d.delivered, k)
		}
	}
	if _, seen := d.delivered[key]; seen {
		return false
	}
	d.delivered[key] = now
	return true
}
