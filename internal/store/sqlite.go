package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"remindme/internal/model"
)

// SQLiteBackend stores one row per reminder in an embedded SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates a SQLite database at the given path.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps writes ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteBackend{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reminders (
		id                    TEXT PRIMARY KEY,
		tg_id                 INTEGER NOT NULL,
		schedule_id           TEXT NOT NULL,
		fire_at               TEXT NOT NULL,
		text                  TEXT NOT NULL,
		recurrence            TEXT NOT NULL,
		requires_confirmation INTEGER NOT NULL DEFAULT 0,
		retry_interval        INTEGER NOT NULL DEFAULT 0,
		state                 TEXT NOT NULL DEFAULT 'idle',
		retry_schedule_id     TEXT NOT NULL DEFAULT '',
		retry_at              TEXT,
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reminders_tg_id ON reminders(tg_id);
	CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders(fire_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const sqliteColumns = `id, tg_id, schedule_id, fire_at, text, recurrence, requires_confirmation,
	retry_interval, state, retry_schedule_id, retry_at, created_at, updated_at`

// Load returns every row that decodes. Rows that do not are skipped and
// returned as record errors.
func (s *SQLiteBackend) Load(ctx context.Context) (model.Snapshot, []model.RecordError, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM reminders ORDER BY tg_id, fire_at, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	snap := model.Snapshot{}
	var skipped []model.RecordError
	for rows.Next() {
		var row sqliteRow
		if err := row.scan(rows); err != nil {
			skipped = append(skipped, model.RecordError{Owner: row.owner, ID: row.id, Err: err})
			continue
		}
		r, err := row.reminder()
		if err != nil {
			skipped = append(skipped, model.RecordError{Owner: row.owner, ID: row.id, Err: err})
			continue
		}
		snap[r.Owner] = append(snap[r.Owner], r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read reminders: %w", err)
	}
	return snap, skipped, nil
}

// sqliteRow holds the raw columns of one row. Decoding into the model
// happens afterwards so a bad value only loses its own row.
type sqliteRow struct {
	id, scheduleID, text         string
	owner                        int64
	fireAt, createdAt, updatedAt string
	recurrence, state            string
	requiresConfirmation         bool
	retryInterval                int64
	retryScheduleID              string
	retryAt                      sql.NullString
}

func (row *sqliteRow) scan(rows *sql.Rows) error {
	if err := rows.Scan(&row.id, &row.owner, &row.scheduleID, &row.fireAt, &row.text, &row.recurrence,
		&row.requiresConfirmation, &row.retryInterval, &row.state, &row.retryScheduleID, &row.retryAt,
		&row.createdAt, &row.updatedAt); err != nil {
		return fmt.Errorf("scan reminder: %w", err)
	}
	return nil
}

func (row sqliteRow) reminder() (model.Reminder, error) {
	r := model.Reminder{
		ID:                   row.id,
		Owner:                row.owner,
		ScheduleID:           row.scheduleID,
		Text:                 row.text,
		RequiresConfirmation: row.requiresConfirmation,
		RetryInterval:        model.Duration(row.retryInterval),
		State:                model.ConfirmationState(row.state),
		RetryScheduleID:      row.retryScheduleID,
	}
	if err := r.Recurrence.Scan(row.recurrence); err != nil {
		return model.Reminder{}, fmt.Errorf("decode recurrence: %w", err)
	}

	var err error
	if r.FireAt, err = time.Parse(time.RFC3339Nano, row.fireAt); err != nil {
		return model.Reminder{}, fmt.Errorf("parse fire_at: %w", err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, row.createdAt); err != nil {
		return model.Reminder{}, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, row.updatedAt); err != nil {
		return model.Reminder{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if row.retryAt.Valid && row.retryAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, row.retryAt.String)
		if err != nil {
			return model.Reminder{}, fmt.Errorf("parse retry_at: %w", err)
		}
		r.RetryAt = &t
	}
	r.Normalize()
	return r, nil
}

func (s *SQLiteBackend) Save(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return fmt.Errorf("clear reminders: %w", err)
	}
	for _, rs := range snap {
		for _, r := range rs {
			if err := upsertSQLite(ctx, tx, r); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Upsert(ctx context.Context, r model.Reminder) error {
	return upsertSQLite(ctx, s.db, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSQLite(ctx context.Context, db execer, r model.Reminder) error {
	rec, err := r.Recurrence.Value()
	if err != nil {
		return fmt.Errorf("encode recurrence: %w", err)
	}
	var retryAt sql.NullString
	if r.RetryAt != nil {
		retryAt = sql.NullString{String: r.RetryAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = db.ExecContext(ctx, `INSERT INTO reminders (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tg_id = excluded.tg_id,
			schedule_id = excluded.schedule_id,
			fire_at = excluded.fire_at,
			text = excluded.text,
			recurrence = excluded.recurrence,
			requires_confirmation = excluded.requires_confirmation,
			retry_interval = excluded.retry_interval,
			state = excluded.state,
			retry_schedule_id = excluded.retry_schedule_id,
			retry_at = excluded.retry_at,
			updated_at = excluded.updated_at`,
		r.ID, r.Owner, r.ScheduleID, r.FireAt.UTC().Format(time.RFC3339Nano), r.Text, rec,
		r.RequiresConfirmation, int64(r.RetryInterval), string(r.State), r.RetryScheduleID, retryAt,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert reminder %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, owner int64, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND tg_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
