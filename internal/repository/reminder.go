package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nvasilev/careminder/internal/database"
	"github.com/nvasilev/careminder/internal/models"
)

type ReminderRepository struct {
	db *database.DB
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `reminder_id, owner_id, kind, label, detail, active, time_of_day, rule, at, snoozed_until, acknowledged_at, created_at`

func (r *ReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	ruleJSON, err := encodeRule(reminder.Rule)
	if err != nil {
		return err
	}
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO reminders (owner_id, kind, label, detail, active, time_of_day, rule, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING reminder_id, created_at`,
		reminder.OwnerID, reminder.Kind, reminder.Label, reminder.Detail, reminder.Active,
		nullString(reminder.TimeOfDay), ruleJSON, reminder.At,
	).Scan(&reminder.ReminderID, &reminder.CreatedAt)
}

func (r *ReminderRepository) GetByID(ctx context.Context, reminderID int64) (*models.Reminder, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE reminder_id = $1`,
		reminderID,
	)
	return scanReminder(row)
}

func (r *ReminderRepository) GetByOwnerID(ctx context.Context, ownerID int64) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE owner_id = $1 ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, rows.Err()
}

// GetActive returns every active reminder, for the reconcile sweep.
func (r *ReminderRepository) GetActive(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE active = true ORDER BY reminder_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, rows.Err()
}

func (r *ReminderRepository) Update(ctx context.Context, reminder *models.Reminder) error {
	ruleJSON, err := encodeRule(reminder.Rule)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx,
		`UPDATE reminders SET label = $1, detail = $2, active = $3, time_of_day = $4, rule = $5, at = $6, snoozed_until = $7
		 WHERE reminder_id = $8 AND owner_id = $9`,
		reminder.Label, reminder.Detail, reminder.Active, nullString(reminder.TimeOfDay),
		ruleJSON, reminder.At, reminder.SnoozedUntil, reminder.ReminderID, reminder.OwnerID,
	)
	return err
}

func (r *ReminderRepository) Delete(ctx context.Context, reminderID int64, ownerID int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM reminders WHERE reminder_id = $1 AND owner_id = $2`,
		reminderID, ownerID,
	)
	return err
}

func (r *ReminderRepository) SetActive(ctx context.Context, reminderID int64, ownerID int64, active bool) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET active = $1 WHERE reminder_id = $2 AND owner_id = $3`,
		active, reminderID, ownerID,
	)
	return err
}

func (r *ReminderRepository) SetSnoozedUntil(ctx context.Context, reminderID int64, until *time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET snoozed_until = $1 WHERE reminder_id = $2`,
		until, reminderID,
	)
	return err
}

func (r *ReminderRepository) SetAcknowledgedAt(ctx context.Context, reminderID int64, at *time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET acknowledged_at = $1 WHERE reminder_id = $2`,
		at, reminderID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	reminder := &models.Reminder{}
	var timeOfDay *string
	var ruleJSON []byte

	err := row.Scan(&reminder.ReminderID, &reminder.OwnerID, &reminder.Kind, &reminder.Label,
		&reminder.Detail, &reminder.Active, &timeOfDay, &ruleJSON, &reminder.At,
		&reminder.SnoozedUntil, &reminder.AcknowledgedAt, &reminder.CreatedAt)
	if err != nil {
		return nil, err
	}

	if timeOfDay != nil {
		reminder.TimeOfDay = *timeOfDay
	}
	if len(ruleJSON) > 0 {
		rule := &models.RecurrenceRule{}
		if err := json.Unmarshal(ruleJSON, rule); err != nil {
			return nil, fmt.Errorf("failed to decode rule for reminder %d: %w", reminder.ReminderID, err)
		}
		reminder.Rule = rule
	}
	return reminder, nil
}

func encodeRule(rule *models.RecurrenceRule) ([]byte, error) {
	if rule == nil {
		return nil, nil
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule: %w", err)
	}
	return data, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
