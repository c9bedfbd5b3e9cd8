package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRule is returned when a recurrence rule is missing the field its
// frequency requires, or carries a field belonging to another frequency.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Frequency string

const (
	FreqOnce       Frequency = "once"
	FreqDaily      Frequency = "daily"
	FreqEveryXDays Frequency = "every_x_days"
	FreqWeekly     Frequency = "weekly"
	FreqMonthly    Frequency = "monthly"
)

// RecurrenceRule describes which calendar dates a medication reminder is
// active on. Dates are date-only; time-of-day lives on the Reminder.
type RecurrenceRule struct {
	StartDate    time.Time      `json:"start_date"`
	Frequency    Frequency      `json:"frequency"`
	EveryXDays   int            `json:"every_x_days,omitempty"`
	WeeklyDays   []time.Weekday `json:"weekly_days,omitempty"`
	MonthlyDay   int            `json:"monthly_day,omitempty"`
	SkippedDates []time.Time    `json:"skipped_dates,omitempty"`
	EndDate      *time.Time     `json:"end_date,omitempty"`
}

// Validate checks that exactly the frequency-specific field matching
// Frequency is populated.
func (r *RecurrenceRule) Validate() error {
	if r.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidRule)
	}

	switch r.Frequency {
	case FreqOnce, FreqDaily:
		// No frequency-specific field.
	case FreqEveryXDays:
		if r.EveryXDays <= 0 {
			return fmt.Errorf("%w: every_x_days must be a positive integer", ErrInvalidRule)
		}
	case FreqWeekly:
		if len(r.WeeklyDays) == 0 {
			return fmt.Errorf("%w: weekly rule requires at least one weekday", ErrInvalidRule)
		}
	case FreqMonthly:
		if r.MonthlyDay < 1 || r.MonthlyDay > 31 {
			return fmt.Errorf("%w: monthly_day must be between 1 and 31", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}

	if r.Frequency != FreqEveryXDays && r.EveryXDays != 0 {
		return fmt.Errorf("%w: every_x_days set on %s rule", ErrInvalidRule, r.Frequency)
	}
	if r.Frequency != FreqWeekly && len(r.WeeklyDays) != 0 {
		return fmt.Errorf("%w: weekly_days set on %s rule", ErrInvalidRule, r.Frequency)
	}
	if r.Frequency != FreqMonthly && r.MonthlyDay != 0 {
		return fmt.Errorf("%w: monthly_day set on %s rule", ErrInvalidRule, r.Frequency)
	}
	return nil
}
