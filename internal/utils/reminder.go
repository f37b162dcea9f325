package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindme/internal/model"
)

var ErrFormat = errors.New("invalid reminder format")

var (
	// DD.MM[.YYYY] HH:MM text
	fullPattern = regexp.MustCompile(`^(\d{1,2}[.,]\d{1,2}(?:[.,]\d{2,4})?)\s+(\d{1,2})[.,:](\d{2})\s+(.+)$`)
	// HH:MM text
	timePattern = regexp.MustCompile(`^(\d{1,2})[.,:](\d{2})\s+(.+)$`)
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ReminderInput is a parsed chat message, ready to be scheduled.
type ReminderInput struct {
	FireAt               time.Time
	Text                 string
	Recurrence           model.Recurrence
	RequiresConfirmation bool
	// Zero means the configured default.
	RetryInterval time.Duration
}

// ParseReminder parses a reminder typed by a user in zone loc.
// Supported forms:
//   - HH:MM text (tomorrow if the time already passed today)
//   - DD.MM[.YYYY] HH:MM text (current year by default)
//   - /daily HH:MM text, /weekly HH:MM text
//   - /every mon,thu HH:MM text
//
// Any form may be prefixed with "/confirm [interval]" or "!" to ask for
// confirmation until the user acknowledges it. Separators may be '.', ',' or
// ':'. Weekdays are converted to UTC weekdays of the resulting instant.
func ParseReminder(input string, now time.Time, loc *time.Location) (ReminderInput, error) {
	var in ReminderInput
	s := strings.TrimSpace(input)
	if s == "" {
		return in, fmt.Errorf("%w: empty message", ErrFormat)
	}

	if rest, ok := strings.CutPrefix(s, "!"); ok {
		in.RequiresConfirmation = true
		s = strings.TrimSpace(rest)
	}
	if cmd, rest := splitCommand(s); cmd == "confirm" {
		in.RequiresConfirmation = true
		s = rest
		if first, tail, _ := strings.Cut(s, " "); first != "" {
			if d, err := time.ParseDuration(first); err == nil {
				if d <= 0 {
					return in, fmt.Errorf("%w: retry interval must be positive", ErrFormat)
				}
				in.RetryInterval = d
				s = strings.TrimSpace(tail)
			}
		}
	}

	local := now.In(loc)
	cmd, rest := splitCommand(s)
	switch cmd {
	case "":
		return parseOnce(in, s, local)
	case "daily":
		in.Recurrence = model.Daily()
		return parseClock(in, rest, local)
	case "weekly":
		in.Recurrence = model.Weekly()
		return parseClock(in, rest, local)
	case "every":
		daysArg, tail, _ := strings.Cut(rest, " ")
		days, err := ParseWeekdays(daysArg)
		if err != nil {
			return in, err
		}
		in, err = parseClock(in, strings.TrimSpace(tail), local)
		if err != nil {
			return in, err
		}
		in.Recurrence = model.WeeklyOn(model.ShiftWeekdays(days, utcShift(in.FireAt, loc))...)
		return in, nil
	default:
		return in, fmt.Errorf("%w: unknown command /%s", ErrFormat, cmd)
	}
}

func parseOnce(in ReminderInput, s string, local time.Time) (ReminderInput, error) {
	if m := fullPattern.FindStringSubmatch(s); m != nil {
		date, err := ParseDate(m[1], local)
		if err != nil {
			return in, err
		}
		hour, minute, err := clock(m[2], m[3])
		if err != nil {
			return in, err
		}
		at := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, local.Location())
		in.FireAt = at.UTC()
		in.Text = strings.TrimSpace(m[4])
		in.Recurrence = model.Once()
		return in, nil
	}

	in, err := parseClock(in, s, local)
	if err != nil {
		return in, err
	}
	if !in.FireAt.After(local) {
		in.FireAt = in.FireAt.In(local.Location()).AddDate(0, 0, 1).UTC()
	}
	in.Recurrence = model.Once()
	return in, nil
}

// parseClock reads "HH:MM text" and anchors it today in the local zone.
func parseClock(in ReminderInput, s string, local time.Time) (ReminderInput, error) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return in, fmt.Errorf("%w: expected HH:MM text", ErrFormat)
	}
	hour, minute, err := clock(m[1], m[2])
	if err != nil {
		return in, err
	}
	in.FireAt = time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location()).UTC()
	in.Text = strings.TrimSpace(m[3])
	return in, nil
}

func clock(h, m string) (int, int, error) {
	hour, _ := strconv.Atoi(h)
	minute, _ := strconv.Atoi(m)
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid time %s:%s", ErrFormat, h, m)
	}
	return hour, minute, nil
}

// ParseWeekdays parses a comma separated list such as "mon,thu".
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var days []time.Weekday
	for name := range strings.SplitSeq(strings.ToLower(s), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrFormat, name)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no weekdays given", ErrFormat)
	}
	return days, nil
}

// splitCommand returns the lower-cased command name without the slash and
// bot mention, and the trimmed remainder. A plain message has no command.
func splitCommand(s string) (string, string) {
	if !strings.HasPrefix(s, "/") {
		return "", s
	}
	head, rest, _ := strings.Cut(s, " ")
	head, _, _ = strings.Cut(strings.TrimPrefix(head, "/"), "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// utcShift is the number of days to add to a weekday of zone loc to get the
// UTC weekday of instant t.
func utcShift(t time.Time, loc *time.Location) int {
	utc := t.UTC()
	local := t.In(loc)
	u := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	l := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return int(u.Sub(l).Hours() / 24)
}
