// Package scheduler is the boundary between reminder mutations and the
// alarm core: it reacts to create/update/delete events by (re)computing
// occurrences and (de)registering alarms, and runs a periodic reconcile
// sweep that re-arms reminders whose alarm state drifted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nvasilev/careminder/internal/alarm"
	"github.com/nvasilev/careminder/internal/models"
	"github.com/nvasilev/careminder/internal/occurrence"
)

// ReminderSource lists the reminders the reconcile sweep should verify.
type ReminderSource interface {
	GetActive(ctx context.Context) ([]*models.Reminder, error)
}

type Service struct {
	clock             alarm.Clock
	registry          *alarm.Registry
	dispatcher        *alarm.Dispatcher
	reminders         ReminderSource
	reconcileInterval time.Duration
	notifyCh          chan struct{}
}

func New(clock alarm.Clock, registry *alarm.Registry, dispatcher *alarm.Dispatcher, reminders ReminderSource, reconcileInterval time.Duration) *Service {
	if reconcileInterval <= 0 {
		reconcileInterval = time.Hour
	}
	return &Service{
		clock:             clock,
		registry:          registry,
		dispatcher:        dispatcher,
		reminders:         reminders,
		reconcileInterval: reconcileInterval,
		notifyCh:          make(chan struct{}, 1),
	}
}

// Notify triggers an immediate reconcile. Non-blocking if one is already pending.
func (s *Service) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
		// A sweep is already pending, skip
	}
}

func (s *Service) Start(ctx context.Context) {
	log.Println("Scheduler started")
	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	s.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler stopped")
			return
		case <-ticker.C:
			s.reconcile(ctx)
		case <-s.notifyCh:
			s.reconcile(ctx)
		}
	}
}

// reconcile re-arms any active reminder that has no pending alarm. Covers
// alarms lost to failed persists or scheduling errors; normally a no-op.
func (s *Service) reconcile(ctx context.Context) {
	reminders, err := s.reminders.GetActive(ctx)
	if err != nil {
		log.Printf("Failed to list active reminders for reconcile: %v", err)
		return
	}

	now := s.clock.Now()
	for _, r := range reminders {
		if s.registry.HasPending(r.ReminderID) {
			continue
		}
		// An elapsed appointment has nothing left to arm; don't recompute
		// its fan-out on every sweep.
		if r.Kind == models.KindAppointment && r.At != nil && !r.At.After(now) {
			continue
		}
		if err := s.armReminder(ctx, r); err != nil {
			log.Printf("Failed to re-arm reminder %d during reconcile: %v", r.ReminderID, err)
		}
	}
}

// OnReminderCreated computes the reminder's trigger(s) and registers its
// alarms. A malformed recurrence rule is reported to the caller, never
// silently coerced.
func (s *Service) OnReminderCreated(ctx context.Context, r *models.Reminder) error {
	if r.Kind == models.KindMedication {
		if r.Rule == nil {
			return fmt.Errorf("%w: medication reminder requires a rule", models.ErrInvalidRule)
		}
		if err := r.Rule.Validate(); err != nil {
			return err
		}
		if _, _, err := occurrence.ParseTimeOfDay(r.TimeOfDay); err != nil {
			return err
		}
	}
	return s.armReminder(ctx, r)
}

// OnReminderUpdated cancels the reminder's pending alarms and re-registers
// from the edited record.
func (s *Service) OnReminderUpdated(ctx context.Context, r *models.Reminder) error {
	if err := s.registry.CancelAll(ctx, r.ReminderID); err != nil {
		return fmt.Errorf("failed to cancel alarms for reminder %d: %w", r.ReminderID, err)
	}
	if !r.Active {
		return nil
	}
	return s.OnReminderCreated(ctx, r)
}

// OnReminderDeleted cancels every pending alarm for the reminder. All keys
// are gone before this returns; no stale alarm can fire afterwards.
func (s *Service) OnReminderDeleted(ctx context.Context, reminderID int64) error {
	return s.registry.CancelAll(ctx, reminderID)
}

func (s *Service) armReminder(ctx context.Context, r *models.Reminder) error {
	now := s.clock.Now()

	switch r.Kind {
	case models.KindMedication:
		next, err := occurrence.NextTrigger(r, now)
		if err != nil {
			return err
		}
		if next == nil {
			log.Printf("Reminder %d has no occurrence within the scan horizon", r.ReminderID)
			return nil
		}
		s.schedule(ctx, alarm.Entry{
			ReminderID: r.ReminderID,
			OffsetTag:  occurrence.OffsetNone,
			TriggerAt:  *next,
			Replay:     alarm.ReplayFrom(r),
		})
		return nil

	case models.KindAppointment:
		triggers, err := occurrence.NextTriggers(r, now)
		if err != nil {
			return err
		}
		if len(triggers) == 0 {
			log.Printf("Appointment %d is in the past, nothing to arm", r.ReminderID)
			return nil
		}
		for _, t := range triggers {
			s.schedule(ctx, alarm.Entry{
				ReminderID: r.ReminderID,
				OffsetTag:  t.Tag,
				TriggerAt:  t.At,
				Replay:     alarm.ReplayFrom(r),
			})
		}
		return nil
	}
	return fmt.Errorf("unknown reminder kind %q", r.Kind)
}

// schedule arms one entry, falling through to immediate dispatch when the
// instant is already inside the arming buffer.
func (s *Service) schedule(ctx context.Context, e alarm.Entry) {
	err := s.registry.Schedule(ctx, e)
	if err == nil {
		return
	}
	if errors.Is(err, alarm.ErrTooSoon) {
		s.dispatcher.HandleFired(ctx, e)
		return
	}
	log.Printf("Failed to schedule alarm %s: %v", e.Key(), err)
}
