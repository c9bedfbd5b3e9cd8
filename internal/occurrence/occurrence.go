package occurrence

import (
	"fmt"
	"time"

	"github.com/nvasilev/careminder/internal/models"
	"github.com/nvasilev/careminder/internal/recurrence"
)

// Offset tags identify which of an appointment's lead-time alarms an entry
// represents. Medication alarms use the empty tag.
const (
	OffsetNone       = ""
	OffsetDayBefore  = "T-1d"
	OffsetHourBefore = "T-1h"
	OffsetNow        = "T-0"
)

// ScanHorizonDays bounds the day-by-day forward scan for the next active
// date. A rule with no due date within two years is treated as having no
// next occurrence.
const ScanHorizonDays = 2 * 366

// Trigger pairs an offset tag with its concrete future instant.
type Trigger struct {
	Tag string
	At  time.Time
}

// NextTrigger computes the next future trigger instant for a medication
// reminder, strictly after the given instant. Returns nil when the rule has
// no occurrence within the scan horizon (an ended or exhausted rule).
//
// The scan walks forward one day at a time rather than using per-frequency
// closed forms; that keeps skip dates, end dates and every frequency kind on
// one code path, at the cost of a bounded linear search.
func NextTrigger(r *models.Reminder, after time.Time) (*time.Time, error) {
	if r.Kind != models.KindMedication {
		return nil, fmt.Errorf("next trigger requested for %s reminder %d", r.Kind, r.ReminderID)
	}
	if r.Rule == nil {
		return nil, fmt.Errorf("%w: medication reminder %d has no rule", models.ErrInvalidRule, r.ReminderID)
	}

	// A pending snooze overrides the computed occurrence once.
	if r.SnoozedUntil != nil && !r.SnoozedUntil.Before(after) {
		t := *r.SnoozedUntil
		return &t, nil
	}

	hour, minute, err := ParseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return nil, err
	}

	day := recurrence.DateOnly(after)
	for i := 0; i <= ScanHorizonDays; i++ {
		due, err := recurrence.IsDue(r.Rule, day)
		if err != nil {
			return nil, err
		}
		if due {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, after.Location())
			if candidate.After(after) {
				return &candidate, nil
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return nil, nil
}

// NextTriggers computes an appointment's fan-out alarms: one day before,
// one hour before, and at the appointment itself. Offsets whose instant has
// already passed are omitted; nothing fires retroactively.
func NextTriggers(r *models.Reminder, after time.Time) ([]Trigger, error) {
	if r.Kind != models.KindAppointment {
		return nil, fmt.Errorf("fan-out requested for %s reminder %d", r.Kind, r.ReminderID)
	}
	if r.At == nil {
		return nil, fmt.Errorf("%w: appointment reminder %d has no date", models.ErrInvalidRule, r.ReminderID)
	}

	at := *r.At
	candidates := []Trigger{
		{Tag: OffsetDayBefore, At: at.Add(-24 * time.Hour)},
		{Tag: OffsetHourBefore, At: at.Add(-time.Hour)},
		{Tag: OffsetNow, At: at},
	}

	var out []Trigger
	for _, c := range candidates {
		if c.At.After(after) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ParseTimeOfDay parses an "HH:MM" clock string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad time of day %q", models.ErrInvalidRule, s)
	}
	return t.Hour(), t.Minute(), nil
}
