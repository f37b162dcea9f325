package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfirmationState represents where a reminder is in the acknowledgment flow
type ConfirmationState string

// Confirmation states
const (
	StateIdle                 ConfirmationState = "idle"
	StateAwaitingConfirmation ConfirmationState = "awaiting_confirmation"
)

// Value implements the driver.Valuer interface for ConfirmationState
func (s ConfirmationState) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the sql.Scanner interface for ConfirmationState
func (s *ConfirmationState) Scan(value interface{}) error {
	if value == nil {
		*s = StateIdle
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ConfirmationState(v)
	case []byte:
		*s = ConfirmationState(v)
	default:
		return errors.New("invalid confirmation state")
	}
	return nil
}

// Duration is a time.Duration that is stored as "30m0s" in JSON and as
// nanoseconds in SQL columns.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	// Older snapshots stored plain nanoseconds
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// Value implements the driver.Valuer interface for Duration
func (d Duration) Value() (driver.Value, error) {
	return int64(d), nil
}

// Scan implements the sql.Scanner interface for Duration
func (d *Duration) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*d = 0
	case int64:
		*d = Duration(v)
	case int32:
		*d = Duration(v)
	default:
		return errors.New("invalid duration")
	}
	return nil
}

// Reminder is the single persisted unit of work.
//
// ID is user facing and never changes. ScheduleID identifies the trigger that
// is currently armed for the reminder and changes on every reschedule, which
// is how stale triggers are told apart from live ones.
type Reminder struct {
	ID                   string            `json:"id" gorm:"column:id;primaryKey"`
	Owner                int64             `json:"owner" gorm:"column:tg_id;not null;index"`
	ScheduleID           string            `json:"schedule_id" gorm:"column:schedule_id;not null"`
	FireAt               time.Time         `json:"fire_at" gorm:"column:fire_at;not null;index"`
	Text                 string            `json:"text" gorm:"column:text;type:text;not null"`
	Recurrence           Recurrence        `json:"recurrence" gorm:"column:recurrence;type:jsonb;not null"`
	RequiresConfirmation bool              `json:"requires_confirmation" gorm:"column:requires_confirmation;not null;default:false"`
	RetryInterval        Duration          `json:"retry_interval" gorm:"column:retry_interval;not null"`
	State                ConfirmationState `json:"state" gorm:"column:state;not null;default:'idle'"`
	// Retry trigger of a recurring reminder awaiting confirmation. One-shot
	// reminders reuse ScheduleID and FireAt for their retry trigger.
	RetryScheduleID string     `json:"retry_schedule_id,omitempty" gorm:"column:retry_schedule_id"`
	RetryAt         *time.Time `json:"retry_at,omitempty" gorm:"column:retry_at"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

// TableName overrides the table name
func (Reminder) TableName() string {
	return "reminders"
}

// IsOneShot reports whether the reminder fires only once.
func (r *Reminder) IsOneShot() bool {
	return r.Recurrence.IsNone()
}

// IsAwaiting reports whether the reminder waits for a confirm or skip.
func (r *Reminder) IsAwaiting() bool {
	return r.State == StateAwaitingConfirmation
}

// Clone returns a deep copy so callers never share slices or pointers with
// the store.
func (r Reminder) Clone() Reminder {
	c := r
	if r.Recurrence.Days != nil {
		c.Recurrence.Days = append([]time.Weekday(nil), r.Recurrence.Days...)
	}
	if r.RetryAt != nil {
		t := *r.RetryAt
		c.RetryAt = &t
	}
	return c
}

// Normalize converts every timestamp to UTC and fills defaults.
func (r *Reminder) Normalize() {
	r.FireAt = r.FireAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if r.RetryAt != nil {
		t := r.RetryAt.UTC()
		r.RetryAt = &t
	}
	if r.State == "" {
		r.State = StateIdle
	}
	if r.Recurrence.Kind == "" {
		r.Recurrence.Kind = RecurrenceNone
	}
}

// Validate checks the fields a reminder needs to be armed.
func (r *Reminder) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("reminder text is empty")
	}
	if r.FireAt.IsZero() {
		return errors.New("reminder fire time is missing")
	}
	if err := r.Recurrence.Validate(); err != nil {
		return err
	}
	if r.RequiresConfirmation && r.RetryInterval <= 0 {
		return errors.New("retry interval must be positive for confirmation reminders")
	}
	switch r.State {
	case StateIdle, StateAwaitingConfirmation:
	default:
		return fmt.Errorf("unknown confirmation state %q", r.State)
	}
	return nil
}

// Snapshot is the durable shape of the store: owner -> reminders.
type Snapshot map[int64][]Reminder

// Count returns the number of reminders across all owners
func (s Snapshot) Count() int {
	n := 0
	for _, rs := range s {
		n += len(rs)
	}
	return n
}

// RecordError describes a stored reminder that could not be decoded. Loads
// skip such records and keep the rest.
type RecordError struct {
	Owner int64
	ID    string
	Err   error
}

func (e RecordError) Error() string {
	id := e.ID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("reminder %d/%s: %v", e.Owner, id, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}
