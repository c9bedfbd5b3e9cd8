package alarm

import (
	"context"
	"errors"
	"log"
)

// Recovery rebuilds the registry from persisted alarm records after a
// process or device restart.
type Recovery struct {
	clock      Clock
	registry   *Registry
	dispatcher *Dispatcher
}

func NewRecovery(clock Clock, registry *Registry, dispatcher *Dispatcher) *Recovery {
	return &Recovery{clock: clock, registry: registry, dispatcher: dispatcher}
}

// RecoverAll re-registers every still-future persisted alarm and
// immediately dispatches every alarm missed while the process was down, so
// a dose or appointment is never silently lost. A bad record is logged and
// skipped; it never aborts recovery of the rest.
func (rc *Recovery) RecoverAll(ctx context.Context) error {
	records, err := rc.registry.LoadPersisted(ctx)
	if err != nil {
		return err
	}

	now := rc.clock.Now()
	var rearmed, replayed, skipped int

	for _, rec := range records {
		if rec.Err != nil {
			if errors.Is(rec.Err, ErrRecordCorrupt) {
				log.Printf("Skipping corrupt alarm record %s: %v", rec.Key, rec.Err)
			} else {
				log.Printf("Skipping unreadable alarm record %s: %v", rec.Key, rec.Err)
			}
			skipped++
			continue
		}

		e := rec.Entry
		if e.TriggerAt.After(now.Add(ArmingBuffer)) {
			if err := rc.registry.Schedule(ctx, e); err != nil {
				log.Printf("Failed to re-register alarm %s: %v", e.Key(), err)
				skipped++
				continue
			}
			rearmed++
			continue
		}

		// Missed while the device was off. Drop the stored record first so
		// the replacement armed during dispatch is not clobbered, then fire
		// as if the alarm had just gone off.
		if err := rc.registry.Cancel(ctx, e.ReminderID, e.OffsetTag); err != nil {
			log.Printf("Failed to clear missed alarm record %s: %v", e.Key(), err)
		}
		rc.dispatcher.HandleFired(ctx, e)
		replayed++
	}

	log.Printf("Recovery complete: %d re-armed, %d replayed, %d skipped", rearmed, replayed, skipped)
	return nil
}
