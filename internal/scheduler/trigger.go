package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindme/internal/model"

	"github.com/oklog/ulid/v2"
)

// ErrNotArmed is returned by Disarm when nothing is armed under the id. It is
// not a failure: one-shot triggers retire themselves after firing.
var ErrNotArmed = errors.New("trigger not armed")

// Trigger is what the scheduler needs to call back at the right instant. It
// carries no reminder content, only the keys to look the reminder up again.
type Trigger struct {
	ScheduleID string
	Owner      int64
	ReminderID string
	FireAt     time.Time
	Recurrence model.Recurrence
}

func (t Trigger) validate() error {
	if t.ScheduleID == "" {
		return errors.New("trigger has no schedule id")
	}
	if t.ReminderID == "" {
		return errors.New("trigger has no reminder id")
	}
	if t.FireAt.IsZero() {
		return errors.New("trigger has no fire time")
	}
	return t.Recurrence.Validate()
}

// FireEvent is delivered to the FireFunc when a trigger fires. ScheduleID is
// always the id the trigger was armed with, also for the per-weekday children
// of a multi-weekday trigger.
type FireEvent struct {
	Owner      int64
	ID         string
	ScheduleID string
	// At is the instant the trigger was planned for.
	At time.Time
}

func (e FireEvent) String() string {
	return fmt.Sprintf("%d/%s@%s", e.Owner, e.ID, e.ScheduleID)
}

// FireFunc handles a fired trigger. It runs on the scheduler's goroutines.
type FireFunc func(ctx context.Context, ev FireEvent)

// Timer arms and disarms wall-clock triggers.
type Timer interface {
	// Arm schedules the trigger, replacing whatever was armed under the same
	// schedule id.
	Arm(t Trigger, fn FireFunc) error
	Disarm(scheduleID string) error
	Armed(scheduleID string) bool
	NextRun(scheduleID string) (time.Time, bool)
}

// NewScheduleID returns a fresh, time ordered schedule id.
func NewScheduleID() string {
	return ulid.Make().String()
}

// ChildScheduleID derives the id of the weekly trigger for one weekday of a
// multi-weekday reminder.
func ChildScheduleID(parent string, d time.Weekday) string {
	return parent + "#" + strings.ToLower(d.String()[:3])
}

// ParentScheduleID strips the weekday suffix added by ChildScheduleID.
func ParentScheduleID(id string) string {
	if i := strings.LastIndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}
