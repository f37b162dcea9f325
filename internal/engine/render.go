package engine

import (
	"fmt"
	"html"
	"strings"
	"time"

	"remindme/internal/model"
	"remindme/internal/notify"
)

const displayLayout = "02.01 at 15:04"

// FormatTime renders an instant in the display zone.
func (e *Engine) FormatTime(t time.Time) string {
	return t.In(e.loc).Format(displayLayout)
}

// DescribeRecurrence renders the recurrence with weekdays of the display zone.
func (e *Engine) DescribeRecurrence(r model.Reminder) string {
	switch r.Recurrence.Kind {
	case model.RecurrenceDaily:
		return "every day"
	case model.RecurrenceWeekly:
		return "every " + r.FireAt.In(e.loc).Weekday().String()
	case model.RecurrenceWeeklyOnDays:
		_, offset := r.FireAt.In(e.loc).Zone()
		shift := dayShift(r.FireAt, offset)
		days := model.ShiftWeekdays(r.Recurrence.Days, shift)
		return model.WeeklyOn(days...).String()
	default:
		return ""
	}
}

// dayShift is how many days the display zone is ahead of UTC at instant t.
func dayShift(t time.Time, offset int) int {
	utc := t.UTC()
	local := utc.Add(time.Duration(offset) * time.Second)
	return int(time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).
		Sub(time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)).Hours() / 24)
}

func (e *Engine) renderFired(r model.Reminder, due time.Time) notify.Message {
	var text strings.Builder
	text.WriteString("🔔 <b>Reminder</b>\n\n")
	text.WriteString(html.EscapeString(r.Text))
	text.WriteString("\n\n")
	text.WriteString(fmt.Sprintf("🕒 %s", e.FormatTime(due)))
	if rec := e.DescribeRecurrence(r); rec != "" {
		text.WriteString(fmt.Sprintf("\n🔁 %s", rec))
	}

	msg := notify.Message{}
	switch {
	case r.RequiresConfirmation:
		text.WriteString(fmt.Sprintf("\n\n<i>Please confirm. I will ask again in %s.</i>", formatInterval(r.RetryInterval.Std())))
		msg.Buttons = [][]notify.Button{{
			{Text: "✅ Done", Data: Action{Kind: ActionConfirm, ID: r.ID}.Data()},
			{Text: "⏰ Skip", Data: Action{Kind: ActionSkip, ID: r.ID}.Data()},
		}}
	case !r.IsOneShot():
		msg.Buttons = [][]notify.Button{{
			{Text: "🗑 Delete", Data: Action{Kind: ActionDelete, ID: r.ID}.Data()},
		}}
	}
	msg.Text = text.String()
	return msg
}

// RenderList renders the owner's reminders with Done / Delete buttons. A
// reminder waiting for a confirmation is marked and also gets a Skip button.
func (e *Engine) RenderList(rs []model.Reminder) notify.Message {
	if len(rs) == 0 {
		return notify.Message{Text: "You have no reminders. Send <code>HH:MM text</code> to add one."}
	}

	var text strings.Builder
	text.WriteString("📋 <b>Your reminders</b>\n")
	buttons := make([][]notify.Button, 0, len(rs))
	for i, r := range rs {
		text.WriteString(fmt.Sprintf("\n%d. %s - %s", i+1, e.FormatTime(r.FireAt), html.EscapeString(r.Text)))
		if rec := e.DescribeRecurrence(r); rec != "" {
			text.WriteString(fmt.Sprintf(" (%s)", rec))
		}

		row := []notify.Button{{Text: fmt.Sprintf("✅ %d", i+1), Data: Action{Kind: ActionConfirm, ID: r.ID}.Data()}}
		if e.isPending(r.Owner, r.ID) {
			text.WriteString(" ⏳")
			row = append(row, notify.Button{Text: fmt.Sprintf("⏰ %d", i+1), Data: Action{Kind: ActionSkip, ID: r.ID}.Data()})
		}
		row = append(row, notify.Button{Text: fmt.Sprintf("🗑 %d", i+1), Data: Action{Kind: ActionDelete, ID: r.ID}.Data()})
		buttons = append(buttons, row)
	}
	return notify.Message{Text: text.String(), Buttons: buttons}
}

func formatInterval(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int(d.Minutes()))
	}
	return d.String()
}
