package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nvasilev/careminder/internal/alarm"
	"github.com/nvasilev/careminder/internal/database"
)

// AlarmStateRepository persists the registry's alarm entries, one row per
// (reminder, offset) key. Implements alarm.Store.
type AlarmStateRepository struct {
	db *database.DB
}

func NewAlarmStateRepository(db *database.DB) *AlarmStateRepository {
	return &AlarmStateRepository{db: db}
}

func (r *AlarmStateRepository) Put(ctx context.Context, e alarm.Entry) error {
	replay, err := json.Marshal(e.Replay)
	if err != nil {
		return fmt.Errorf("failed to encode replay data: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO alarm_state (key, reminder_id, offset_tag, trigger_at, replay)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET trigger_at = EXCLUDED.trigger_at, replay = EXCLUDED.replay`,
		e.Key(), e.ReminderID, e.OffsetTag, e.TriggerAt, replay,
	)
	return err
}

func (r *AlarmStateRepository) Delete(ctx context.Context, reminderID int64, offsetTag string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM alarm_state WHERE reminder_id = $1 AND offset_tag = $2`,
		reminderID, offsetTag,
	)
	return err
}

func (r *AlarmStateRepository) DeleteAll(ctx context.Context, reminderID int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM alarm_state WHERE reminder_id = $1`,
		reminderID,
	)
	return err
}

func (r *AlarmStateRepository) List(ctx context.Context) ([]alarm.Record, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT key, reminder_id, offset_tag, trigger_at, replay FROM alarm_state ORDER BY trigger_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []alarm.Record
	for rows.Next() {
		var rec alarm.Record
		var replay []byte
		err := rows.Scan(&rec.Key, &rec.Entry.ReminderID, &rec.Entry.OffsetTag,
			&rec.Entry.TriggerAt, &replay)
		if err != nil {
			// A row that cannot even be scanned is reported as corrupt so
			// recovery can skip it and keep going.
			records = append(records, alarm.Record{
				Err: fmt.Errorf("%w: %v", alarm.ErrRecordCorrupt, err),
			})
			continue
		}
		if err := json.Unmarshal(replay, &rec.Entry.Replay); err != nil {
			rec.Err = fmt.Errorf("%w: bad replay data: %v", alarm.ErrRecordCorrupt, err)
		} else if rec.Entry.ReminderID <= 0 || rec.Entry.TriggerAt.IsZero() {
			rec.Err = fmt.Errorf("%w: missing fields", alarm.ErrRecordCorrupt)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
