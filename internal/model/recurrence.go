package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RecurrenceKind is the repetition policy of a reminder
type RecurrenceKind string

// Recurrence kinds
const (
	RecurrenceNone         RecurrenceKind = "none"
	RecurrenceDaily        RecurrenceKind = "daily"
	RecurrenceWeekly       RecurrenceKind = "weekly"
	RecurrenceWeeklyOnDays RecurrenceKind = "weekly_on_days"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var ErrInvalidRecurrence = errors.New("invalid recurrence")

// Recurrence describes when a reminder repeats. Days is only used by
// RecurrenceWeeklyOnDays and holds UTC weekdays.
type Recurrence struct {
	Kind RecurrenceKind `json:"kind"`
	Days []time.Weekday `json:"days,omitempty"`
}

func Once() Recurrence   { return Recurrence{Kind: RecurrenceNone} }
func Daily() Recurrence  { return Recurrence{Kind: RecurrenceDaily} }
func Weekly() Recurrence { return Recurrence{Kind: RecurrenceWeekly} }

// WeeklyOn builds a multi-weekday recurrence. Duplicates are dropped and the
// days are kept sorted.
func WeeklyOn(days ...time.Weekday) Recurrence {
	return Recurrence{Kind: RecurrenceWeeklyOnDays, Days: normalizeDays(days)}
}

func (r Recurrence) IsNone() bool {
	return r.Kind == "" || r.Kind == RecurrenceNone
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case "", RecurrenceNone, RecurrenceDaily, RecurrenceWeekly:
		if len(r.Days) > 0 {
			return fmt.Errorf("%w: %s does not take weekdays", ErrInvalidRecurrence, r.Kind)
		}
	case RecurrenceWeeklyOnDays:
		if len(r.Days) == 0 {
			return fmt.Errorf("%w: no weekdays selected", ErrInvalidRecurrence)
		}
		seen := make(map[time.Weekday]bool, len(r.Days))
		for _, d := range r.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRecurrence, d)
			}
			if seen[d] {
				return fmt.Errorf("%w: duplicate weekday %s", ErrInvalidRecurrence, d)
			}
			seen[d] = true
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecurrence, r.Kind)
	}
	return nil
}

func (r Recurrence) String() string {
	switch r.Kind {
	case RecurrenceDaily:
		return "daily"
	case RecurrenceWeekly:
		return "weekly"
	case RecurrenceWeeklyOnDays:
		names := make([]string, len(r.Days))
		for i, d := range r.Days {
			names[i] = d.String()[:3]
		}
		return "every " + strings.Join(names, ", ")
	default:
		return "once"
	}
}

// Value makes Recurrence implement the driver.Valuer interface
func (r Recurrence) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan makes Recurrence implement the sql.Scanner interface
func (r *Recurrence) Scan(value interface{}) error {
	if value == nil {
		*r = Once()
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, r)
}

// NextOccurrence returns the first instant of the recurrence that is strictly
// after `after`. The anchor fixes the time of day and is itself the first
// occurrence; occurrences before the anchor never happen. A one-shot is
// rolled forward by whole days, the same rule that applies to "HH:MM" input.
func NextOccurrence(anchor time.Time, r Recurrence, after time.Time) time.Time {
	anchor = anchor.UTC()
	after = after.UTC()

	switch r.Kind {
	case RecurrenceWeekly:
		return advance(anchor, week, after)
	case RecurrenceWeeklyOnDays:
		var next time.Time
		for _, d := range r.Days {
			c := NextWeekday(anchor, d, after)
			if next.IsZero() || c.Before(next) {
				next = c
			}
		}
		if next.IsZero() {
			return advance(anchor, week, after)
		}
		return next
	default:
		return advance(anchor, day, after)
	}
}

// NextWeekday returns the first instant after `after` (and not before the
// anchor) that falls on the given UTC weekday at the anchor's time of day.
func NextWeekday(anchor time.Time, d time.Weekday, after time.Time) time.Time {
	anchor = anchor.UTC()
	from := after.UTC()
	if anchor.After(from) {
		from = anchor.Add(-time.Nanosecond)
	}

	base := time.Date(from.Year(), from.Month(), from.Day(),
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), time.UTC)
	for i := 0; i <= 7; i++ {
		c := base.AddDate(0, 0, i)
		if c.Weekday() == d && c.After(from) {
			return c
		}
	}
	// Unreachable: one of eight consecutive days always matches
	return base.AddDate(0, 0, 7)
}

func advance(anchor time.Time, period time.Duration, after time.Time) time.Time {
	if anchor.After(after) {
		return anchor
	}
	k := after.Sub(anchor)/period + 1
	next := anchor.Add(k * period)
	for !next.After(after) {
		next = next.Add(period)
	}
	return next
}

// ShiftWeekdays moves every weekday by shift days (-1, 0 or +1 when
// converting between a display zone and UTC).
func ShiftWeekdays(days []time.Weekday, shift int) []time.Weekday {
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, time.Weekday(((int(d)+shift)%7+7)%7))
	}
	return normalizeDays(out)
}

func normalizeDays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
