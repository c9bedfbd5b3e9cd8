package models

import "time"

type ReminderKind string

const (
	KindMedication  ReminderKind = "medication"
	KindAppointment ReminderKind = "appointment"
)

type Reminder struct {
	ReminderID     int64           `json:"reminder_id"`
	OwnerID        int64           `json:"owner_id"`
	Kind           ReminderKind    `json:"kind"`
	Label          string          `json:"label"`  // medicine name or appointment title
	Detail         string          `json:"detail"` // dose/note or doctor/location
	Active         bool            `json:"active"`
	TimeOfDay      string          `json:"time_of_day,omitempty"` // "15:04", medication only
	Rule           *RecurrenceRule `json:"rule,omitempty"`        // medication only
	At             *time.Time      `json:"at,omitempty"`          // appointment instant
	SnoozedUntil   *time.Time      `json:"snoozed_until,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsRecurring returns true if this reminder fires more than once.
func (r *Reminder) IsRecurring() bool {
	return r.Kind == KindMedication && r.Rule != nil && r.Rule.Frequency != FreqOnce
}

// Critical reports whether a firing should escalate to an intrusive alert.
// Every medication reminder is critical.
func (r *Reminder) Critical() bool {
	return r.Kind == KindMedication
}
