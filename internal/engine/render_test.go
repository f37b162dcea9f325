package engine

import (
	"context"
	"testing"
	"time"

	"remindme/internal/model"
	"remindme/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimeUsesDisplayZone(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "19.10 at 12:00", h.engine.FormatTime(base))
}

func TestDescribeRecurrence(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		r    model.Reminder
		want string
	}{
		{"once", model.Reminder{FireAt: base, Recurrence: model.Once()}, ""},
		{"daily", model.Reminder{FireAt: base, Recurrence: model.Daily()}, "every day"},
		{"weekly", model.Reminder{FireAt: base, Recurrence: model.Weekly()}, "every Monday"},
		{"weekdays same day", model.Reminder{FireAt: base, Recurrence: model.WeeklyOn(time.Monday, time.Thursday)}, "every Mon, Thu"},
		// 22:30 UTC Sunday is 01:30 Monday in Moscow
		{"weekdays across midnight", model.Reminder{
			FireAt:     time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC),
			Recurrence: model.WeeklyOn(time.Sunday, time.Wednesday),
		}, "every Mon, Thu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.engine.DescribeRecurrence(tt.r))
		})
	}
}

func TestRenderList(t *testing.T) {
	h := newHarness(t)

	empty := h.engine.RenderList(nil)
	assert.Contains(t, empty.Text, "no reminders")
	assert.Empty(t, empty.Buttons)

	first := h.create(t, CreateRequest{Text: "first <now>"})
	second := h.create(t, CreateRequest{
		Text:                 "second",
		FireAt:               base.Add(2 * time.Hour),
		Recurrence:           model.Daily(),
		RequiresConfirmation: true,
	})
	h.clock.Advance(2 * time.Hour)
	h.timer.fire(t, second.ScheduleID)

	list, err := h.engine.ListReminders(context.Background(), 1)
	require.NoError(t, err)
	msg := h.engine.RenderList(list)
	assert.Contains(t, msg.Text, "1. 19.10 at 13:00 - first &lt;now&gt;\n")
	assert.Contains(t, msg.Text, "2. 20.10 at 14:00 - second (every day) ⏳")

	require.Len(t, msg.Buttons, 2)
	assert.Equal(t, []string{"rem.done." + first.ID, "rem.delete." + first.ID}, buttonData(msg.Buttons[0]))
	assert.Equal(t, []string{"rem.done." + second.ID, "rem.skip." + second.ID, "rem.delete." + second.ID}, buttonData(msg.Buttons[1]))

	// Once confirmed the marker is gone and so is the Skip button
	_, err = h.engine.ConfirmReminder(context.Background(), 1, second.ID)
	require.NoError(t, err)
	list, err = h.engine.ListReminders(context.Background(), 1)
	require.NoError(t, err)
	msg = h.engine.RenderList(list)
	assert.NotContains(t, msg.Text, "⏳")
	assert.Len(t, msg.Buttons[1], 2)
}

func buttonData(row []notify.Button) []string {
	out := make([]string, len(row))
	for i, b := range row {
		out[i] = b.Data
	}
	return out
}

func TestRenderFiredShowsDueTime(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(3 * time.Hour)

	msg := h.engine.renderFired(model.Reminder{
		ID: "a", FireAt: base, Text: "a <b>bold</b> plan", Recurrence: model.Once(),
	}, base)
	assert.Contains(t, msg.Text, "🕒 19.10 at 12:00")
	assert.NotContains(t, msg.Text, "15:00")
	assert.Contains(t, msg.Text, "a &lt;b&gt;bold&lt;/b&gt; plan")
	assert.Empty(t, msg.Buttons)

	confirm := h.engine.renderFired(model.Reminder{
		ID: "b", FireAt: base, Text: "pills", Recurrence: model.Daily(),
		RequiresConfirmation: true, RetryInterval: model.Duration(30 * time.Minute),
	}, base.Add(30*time.Minute))
	assert.Contains(t, confirm.Text, "🕒 19.10 at 12:30")
	assert.Contains(t, confirm.Text, "🔁 every day")
	assert.Contains(t, confirm.Text, "I will ask again in 30 min")
	require.Len(t, confirm.Buttons, 1)
	assert.Equal(t, "rem.done.b", confirm.Buttons[0][0].Data)
	assert.Equal(t, "rem.skip.b", confirm.Buttons[0][1].Data)
}

func TestFormatInterval(t *testing.T) {
	assert.Equal(t, "30 min", formatInterval(30*time.Minute))
	assert.Equal(t, "2h", formatInterval(2*time.Hour))
	assert.Equal(t, "1m30s", formatInterval(90*time.Second))
}
