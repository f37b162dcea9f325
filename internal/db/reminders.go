package db

import (
	"context"
	"fmt"
	"time"

	"remindme/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const saveBatchSize = 200

// reminderRow is a reminders row before decoding. Recurrence and state are
// read as text so a bad value only loses its own row.
type reminderRow struct {
	ID                   string     `gorm:"column:id"`
	Owner                int64      `gorm:"column:tg_id"`
	ScheduleID           string     `gorm:"column:schedule_id"`
	FireAt               time.Time  `gorm:"column:fire_at"`
	Text                 string     `gorm:"column:text"`
	Recurrence           string     `gorm:"column:recurrence"`
	RequiresConfirmation bool       `gorm:"column:requires_confirmation"`
	RetryInterval        int64      `gorm:"column:retry_interval"`
	State                string     `gorm:"column:state"`
	RetryScheduleID      string     `gorm:"column:retry_schedule_id"`
	RetryAt              *time.Time `gorm:"column:retry_at"`
	CreatedAt            *time.Time `gorm:"column:created_at"`
	UpdatedAt            *time.Time `gorm:"column:updated_at"`
}

func (row reminderRow) reminder() (model.Reminder, error) {
	r := model.Reminder{
		ID:                   row.ID,
		Owner:                row.Owner,
		ScheduleID:           row.ScheduleID,
		FireAt:               row.FireAt,
		Text:                 row.Text,
		RequiresConfirmation: row.RequiresConfirmation,
		RetryInterval:        model.Duration(row.RetryInterval),
		State:                model.ConfirmationState(row.State),
		RetryScheduleID:      row.RetryScheduleID,
		RetryAt:              row.RetryAt,
	}
	if err := r.Recurrence.Scan(row.Recurrence); err != nil {
		return model.Reminder{}, fmt.Errorf("decode recurrence: %w", err)
	}
	if row.CreatedAt != nil {
		r.CreatedAt = *row.CreatedAt
	}
	if row.UpdatedAt != nil {
		r.UpdatedAt = *row.UpdatedAt
	}
	r.Normalize()
	return r, nil
}

// Load returns every reminder grouped by owner. Rows that cannot be decoded
// are skipped and returned as record errors.
func (db *DB) Load(ctx context.Context) (model.Snapshot, []model.RecordError, error) {
	rows, err := db.conn.WithContext(ctx).Table("reminders").Order("tg_id, fire_at, id").Rows()
	if err != nil {
		return nil, nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()

	snap := make(model.Snapshot)
	var skipped []model.RecordError
	for rows.Next() {
		var row reminderRow
		if err := db.conn.ScanRows(rows, &row); err != nil {
			skipped = append(skipped, model.RecordError{Owner: row.Owner, ID: row.ID, Err: err})
			continue
		}
		r, err := row.reminder()
		if err != nil {
			skipped = append(skipped, model.RecordError{Owner: row.Owner, ID: row.ID, Err: err})
			continue
		}
		snap[r.Owner] = append(snap[r.Owner], r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load reminders: %w", err)
	}
	return snap, skipped, nil
}

// Save replaces the reminders table with snap in one transaction.
func (db *DB) Save(ctx context.Context, snap model.Snapshot) error {
	rows := make([]model.Reminder, 0, snap.Count())
	for _, rs := range snap {
		rows = append(rows, rs...)
	}

	return db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Reminder{}).Error; err != nil {
			return fmt.Errorf("clear reminders: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, saveBatchSize).Error; err != nil {
			return fmt.Errorf("insert reminders: %w", err)
		}
		return nil
	})
}

// Upsert inserts the reminder or overwrites the stored row with the same id.
func (db *DB) Upsert(ctx context.Context, r model.Reminder) error {
	err := db.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("upsert reminder %s: %w", r.ID, err)
	}
	return nil
}

var upsertColumns = []string{
	"tg_id", "schedule_id", "fire_at", "text", "recurrence", "requires_confirmation",
	"retry_interval", "state", "retry_schedule_id", "retry_at", "updated_at",
}

// Delete removes the owner's reminder. Deleting a missing row is not an error.
func (db *DB) Delete(ctx context.Context, owner int64, id string) error {
	err := db.conn.WithContext(ctx).
		Where("id = ? AND tg_id = ?", id, owner).
		Delete(&model.Reminder{}).Error
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return nil
}
