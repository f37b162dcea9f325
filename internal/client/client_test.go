package client

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"remindme/internal/engine"
	"remindme/internal/model"
	"remindme/internal/notify"
	"remindme/internal/scheduler"
	"remindme/internal/store"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 12:00 in Moscow
var base = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

const owner int64 = 42

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T) (*Client, *engine.Engine) {
	t.Helper()
	logger := quietLogger()

	backend, err := store.NewFileBackend(filepath.Join(t.TempDir(), "reminders.json"), logger)
	require.NoError(t, err)
	s := store.New(backend, logger)

	// Never started: triggers are armed but only fire when the test says so
	sched := scheduler.NewScheduler(logger, 1)
	t.Cleanup(sched.Stop)

	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	sent := notify.DispatcherFunc(func(context.Context, int64, notify.Message) error { return nil })
	eng := engine.New(s, sched, sent, logger, engine.Options{
		Now:      func() time.Time { return base },
		Location: loc,
	})

	c := NewClient(logger, eng, Config{})
	c.Now = func() time.Time { return base }
	return c, eng
}

func only(t *testing.T, eng *engine.Engine) model.Reminder {
	t.Helper()
	list, err := eng.ListReminders(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

func fire(eng *engine.Engine, r model.Reminder) {
	eng.HandleFire(context.Background(), scheduler.FireEvent{
		Owner:      r.Owner,
		ID:         r.ID,
		ScheduleID: r.ScheduleID,
		At:         r.FireAt,
	})
}

func TestNewReminderReply(t *testing.T) {
	c, eng := newTestClient(t)

	msg, err := c.newReminderReply(context.Background(), owner, "19:30 dinner <with> friends")
	require.NoError(t, err)

	assert.Contains(t, msg.Text, "19.10 at 19:30")
	assert.Contains(t, msg.Text, "dinner &lt;with&gt; friends")
	r := only(t, eng)
	assert.Equal(t, "dinner <with> friends", r.Text)
	require.Len(t, msg.Buttons, 1)
	assert.Equal(t, "rem.delete."+r.ID, msg.Buttons[0][0].Data)
}

func TestNewReminderReplyRejectsBadInput(t *testing.T) {
	c, eng := newTestClient(t)
	ctx := context.Background()

	msg, err := c.newReminderReply(ctx, owner, "dinner at seven")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "❌")
	assert.Contains(t, msg.Text, "HH:MM text")

	msg, err = c.newReminderReply(ctx, owner, "01.01 10:00 long gone")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "in the past")

	list, err := eng.ListReminders(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConfirmationFlowThroughButtons(t *testing.T) {
	c, eng := newTestClient(t)
	ctx := context.Background()

	msg, err := c.newReminderReply(ctx, owner, "/confirm 10m 19:30 pills")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "I will ask every 10m0s")

	r := only(t, eng)
	fire(eng, r)
	awaiting := only(t, eng)
	require.True(t, awaiting.IsAwaiting())

	res, err := c.applyAction(ctx, owner, "rem.skip."+r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Snoozed", res.Answer)
	assert.Contains(t, res.Text, "I will ask again at 19.10 at 12:10")

	res, err = c.applyAction(ctx, owner, "rem.done."+r.ID)
	require.NoError(t, err)
	assert.Equal(t, "✅ Done: pills", res.Text)

	// The button of an older prompt no longer applies
	res, err = c.applyAction(ctx, owner, "rem.done."+r.ID)
	require.NoError(t, err)
	assert.Equal(t, inactiveText, res.Answer)
	assert.Empty(t, res.Text)
}

func TestRecurringConfirmShowsNextTime(t *testing.T) {
	c, eng := newTestClient(t)
	ctx := context.Background()

	_, err := c.newReminderReply(ctx, owner, "/confirm /daily 21:00 meds")
	require.NoError(t, err)
	r := only(t, eng)
	fire(eng, r)

	res, err := c.applyAction(ctx, owner, "rem.done."+r.ID)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Next time: 20.10 at 21:00")

	res, err = c.applyAction(ctx, owner, "rem.skip."+r.ID)
	require.NoError(t, err)
	assert.Equal(t, inactiveText, res.Answer)
}

func TestDeleteFromList(t *testing.T) {
	c, eng := newTestClient(t)
	ctx := context.Background()

	_, err := c.newReminderReply(ctx, owner, "/every mon,thu 07:00 gym")
	require.NoError(t, err)

	list, err := c.listReply(ctx, owner)
	require.NoError(t, err)
	assert.Contains(t, list.Text, "every Mon, Thu")
	require.Len(t, list.Buttons, 1)

	res, err := c.applyAction(ctx, owner, list.Buttons[0][1].Data)
	require.NoError(t, err)
	assert.Equal(t, "🗑 Deleted: gym", res.Text)

	rs, err := eng.ListReminders(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestApplyActionRejectsUnknownData(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.applyAction(context.Background(), owner, "rem.snooze.x")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestAuthorize(t *testing.T) {
	c, _ := newTestClient(t)
	assert.NoError(t, c.authorize(gotgbot.User{Username: "anyone"}))

	c.Config.AllowedUsers = map[string]struct{}{"alice": {}}
	assert.NoError(t, c.authorize(gotgbot.User{Username: "alice"}))
	assert.Error(t, c.authorize(gotgbot.User{Username: "mallory"}))
}

func TestClientMetricsInitialization(t *testing.T) {
	c := NewClient(quietLogger(), nil, Config{})
	assert.NotNil(t, c.CommandCounter)
	assert.NotNil(t, c.Now)
}
