package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/nvasilev/careminder/internal/models"
)

// IsDue reports whether a medication rule is active on the given calendar
// date. Only the date portion of date is considered. A malformed rule is
// reported as an error wrapping models.ErrInvalidRule; valid rules never
// fail, for any date.
func IsDue(rule *models.RecurrenceRule, date time.Time) (bool, error) {
	if err := rule.Validate(); err != nil {
		return false, err
	}

	day := DateOnly(date)
	start := DateOnly(rule.StartDate)

	if day.Before(start) {
		return false, nil
	}
	for _, skipped := range rule.SkippedDates {
		if SameDate(day, skipped) {
			return false, nil
		}
	}
	// End date is an exclusive bound: the rule stops firing on the end date
	// itself.
	if rule.EndDate != nil && !day.Before(DateOnly(*rule.EndDate)) {
		return false, nil
	}

	switch rule.Frequency {
	case models.FreqOnce:
		return SameDate(day, start), nil
	case models.FreqDaily:
		return true, nil
	case models.FreqEveryXDays:
		return DaysBetween(start, day)%rule.EveryXDays == 0, nil
	case models.FreqWeekly:
		for _, wd := range rule.WeeklyDays {
			if day.Weekday() == wd {
				return true, nil
			}
		}
		return false, nil
	case models.FreqMonthly:
		// A 31st-of-month rule simply never fires in shorter months; there
		// is no clamping to the last day.
		return day.Day() == rule.MonthlyDay, nil
	}
	return false, fmt.Errorf("%w: unknown frequency %q", models.ErrInvalidRule, rule.Frequency)
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// DaysBetween returns the whole number of calendar days from a to b.
// Normalizes to UTC midnights so DST transitions don't skew the count.
func DaysBetween(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au) / (24 * time.Hour))
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// ToRRule converts a rule plus a time of day into an RFC 5545 recurrence
// set, with skipped dates as EXDATEs. Used for export and for rendering the
// schedule to other calendar tooling; the scheduler itself evaluates rules
// through IsDue.
func ToRRule(rule *models.RecurrenceRule, hour, minute int) (*rrule.Set, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	start := rule.StartDate
	opt := rrule.ROption{
		Dtstart: time.Date(start.Year(), start.Month(), start.Day(), hour, minute, 0, 0, start.Location()),
	}

	switch rule.Frequency {
	case models.FreqOnce:
		opt.Freq = rrule.DAILY
		opt.Count = 1
	case models.FreqDaily:
		opt.Freq = rrule.DAILY
	case models.FreqEveryXDays:
		opt.Freq = rrule.DAILY
		opt.Interval = rule.EveryXDays
	case models.FreqWeekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range rule.WeeklyDays {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case models.FreqMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{rule.MonthlyDay}
	}

	if rule.EndDate != nil {
		// Our end date is exclusive, UNTIL is inclusive.
		end := DateOnly(*rule.EndDate).AddDate(0, 0, -1)
		opt.Until = time.Date(end.Year(), end.Month(), end.Day(), hour, minute, 0, 0, start.Location())
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build rrule: %w", err)
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, skipped := range rule.SkippedDates {
		d := skipped
		set.ExDate(time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, start.Location()))
	}
	return set, nil
}

// RRuleString renders the rule as an RFC 5545 string ("RRULE:FREQ=..."
// plus EXDATE lines).
func RRuleString(rule *models.RecurrenceRule, hour, minute int) (string, error) {
	set, err := ToRRule(rule, hour, minute)
	if err != nil {
		return "", err
	}
	return set.String(), nil
}

// Describe returns a short human-readable summary for lists and
// notifications, e.g. "every 2 days" or "weekly on Mon, Thu".
func Describe(rule *models.RecurrenceRule) string {
	var sb strings.Builder

	switch rule.Frequency {
	case models.FreqOnce:
		sb.WriteString("once on " + rule.StartDate.Format("2006-01-02"))
	case models.FreqDaily:
		sb.WriteString("daily")
	case models.FreqEveryXDays:
		if rule.EveryXDays == 1 {
			sb.WriteString("daily")
		} else {
			fmt.Fprintf(&sb, "every %d days", rule.EveryXDays)
		}
	case models.FreqWeekly:
		names := make([]string, len(rule.WeeklyDays))
		for i, wd := range rule.WeeklyDays {
			names[i] = wd.String()[:3]
		}
		sb.WriteString("weekly on " + strings.Join(names, ", "))
	case models.FreqMonthly:
		fmt.Fprintf(&sb, "monthly on day %d", rule.MonthlyDay)
	default:
		return string(rule.Frequency)
	}

	if rule.EndDate != nil {
		fmt.Fprintf(&sb, ", until %s", rule.EndDate.Format("2006-01-02"))
	}
	return sb.String()
}
