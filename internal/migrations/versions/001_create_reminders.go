package versions

import (
	"remindme/internal/migrations"

	"gorm.io/gorm"
)

func init() {
	migrations.RegisterMigrationWithRollback("001", "Create reminders table", createRemindersTable, rollbackRemindersTable)
}

func createRemindersTable(tx *gorm.DB) error {
	return tx.Exec(`
		DROP TYPE IF EXISTS confirmation_state;
		CREATE TYPE confirmation_state AS ENUM (
			'idle',
			'awaiting_confirmation'
		);

		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			tg_id BIGINT NOT NULL,
			schedule_id TEXT NOT NULL,
			fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
			text TEXT NOT NULL,
			recurrence JSONB NOT NULL DEFAULT '{"kind":"none"}',
			requires_confirmation BOOLEAN NOT NULL DEFAULT FALSE,
			-- nanoseconds
			retry_interval BIGINT NOT NULL DEFAULT 0,
			state confirmation_state NOT NULL DEFAULT 'idle',
			retry_schedule_id TEXT NOT NULL DEFAULT '',
			retry_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_reminders_tg_id ON reminders (tg_id);
		CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders (fire_at);
	`).Error
}

func rollbackRemindersTable(tx *gorm.DB) error {
	return tx.Exec(`
		DROP TABLE IF EXISTS reminders;
		DROP TYPE IF EXISTS confirmation_state;
	`).Error
}
