// Package alarm owns the scheduling core: the registry of armed native
// timers, the dispatcher invoked when one fires, and restart recovery.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nvasilev/careminder/internal/models"
)

var (
	// ErrTooSoon rejects scheduling attempts inside the arming safety
	// buffer; callers should dispatch immediately instead.
	ErrTooSoon = errors.New("trigger instant is inside the arming safety buffer")

	// ErrSchedulingDenied is returned by a timer port that refuses the
	// exact-alarm capability. The registry falls back to inexact arming.
	ErrSchedulingDenied = errors.New("exact scheduling denied by host")

	// ErrRecordCorrupt marks a persisted alarm record that cannot be
	// decoded. Recovery skips it and continues.
	ErrRecordCorrupt = errors.New("stored alarm record is corrupt")
)

// ArmingBuffer is the minimum lead time for arming a native timer. Anything
// closer races the host's timer-arming latency.
const ArmingBuffer = 5 * time.Second

// Clock is the injected time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TimerHandle is an armed native timer. Only the registry may hold one.
type TimerHandle interface {
	Stop()
}

// TimerPort arms wake-ups with the host environment. ScheduleExact may fail
// with ErrSchedulingDenied, in which case the caller degrades to
// ScheduleInexact.
type TimerPort interface {
	ScheduleExact(at time.Time, fire func()) (TimerHandle, error)
	ScheduleInexact(at time.Time, fire func()) (TimerHandle, error)
}

// ReplayData is the minimal rendering state persisted with an entry, enough
// to notify the user after a restart even if the reminder record cannot be
// read back.
type ReplayData struct {
	OwnerID int64               `json:"owner_id"`
	Kind    models.ReminderKind `json:"kind"`
	Label   string              `json:"label"`
	Detail  string              `json:"detail,omitempty"`
}

// Entry is one scheduled wake-up for a (reminder, offset) pair.
type Entry struct {
	ReminderID int64
	OffsetTag  string
	TriggerAt  time.Time
	Replay     ReplayData
}

// Key returns the composite registry/storage key.
func (e Entry) Key() string {
	return fmt.Sprintf("%d|%s", e.ReminderID, e.OffsetTag)
}

// Record is one persisted entry as loaded at recovery time. Err is set when
// the stored record could not be decoded.
type Record struct {
	Key   string
	Entry Entry
	Err   error
}

// Store is the durable key/value persistence port for alarm entries.
// Writes are last-writer-wins per key and must be flushed before the
// scheduling call that produced them returns.
type Store interface {
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, reminderID int64, offsetTag string) error
	DeleteAll(ctx context.Context, reminderID int64) error
	List(ctx context.Context) ([]Record, error)
}

// Notification channels and priorities, mirrored onto whatever transport
// the notifier uses.
const (
	ChannelMedication  = "medication"
	ChannelAppointment = "appointment"

	PriorityDefault = "default"
	PriorityHigh    = "high"
)

// Notifier is the presentation collaborator. PresentFullScreenAlert may
// fail (permission denied) without aborting the passive fallback; it
// receives the reminder ID so the intrusive surface can offer snooze and
// dismiss actions.
type Notifier interface {
	PostNotification(ctx context.Context, ownerID int64, title, body, channel, priority string) error
	PresentFullScreenAlert(ctx context.Context, ownerID, reminderID int64, title, body string) error
}

// ReminderStore is the scheduler's read/narrow-write access to reminder
// records owned by the external persistence layer.
type ReminderStore interface {
	GetByID(ctx context.Context, reminderID int64) (*models.Reminder, error)
	SetSnoozedUntil(ctx context.Context, reminderID int64, until *time.Time) error
	SetAcknowledgedAt(ctx context.Context, reminderID int64, at *time.Time) error
}
