package client

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"remindme/internal/engine"
	"remindme/internal/notify"
	"remindme/internal/utils"
)

const usageText = `Send a reminder as one of:
<code>HH:MM text</code> - today, or tomorrow if the time has passed
<code>DD.MM HH:MM text</code> - on a date
<code>/daily HH:MM text</code> - every day
<code>/weekly HH:MM text</code> - every week on this weekday
<code>/every mon,thu HH:MM text</code> - on selected weekdays

Prefix with <code>/confirm</code> (or <code>!</code>) and I will keep asking until you press Done, e.g. <code>/confirm 15m 21:00 pills</code>.

/list - your reminders`

const (
	inactiveText = "This reminder is no longer active."
	failureText  = "Something went wrong, please try again."
)

// newReminderReply parses text from owner, schedules it and returns the
// reply. The error is non-nil only for failures that should be logged.
func (c *Client) newReminderReply(ctx context.Context, owner int64, text string) (notify.Message, error) {
	in, err := utils.ParseReminder(text, c.Now(), c.Reminders.Location())
	if err != nil {
		return notify.Message{Text: fmt.Sprintf("❌ %s\n\n%s", html.EscapeString(err.Error()), usageText)}, nil
	}

	r, err := c.Reminders.CreateReminder(ctx, engine.CreateRequest{
		Owner:                owner,
		FireAt:               in.FireAt,
		Text:                 in.Text,
		Recurrence:           in.Recurrence,
		RequiresConfirmation: in.RequiresConfirmation,
		RetryInterval:        in.RetryInterval,
	})
	if errors.Is(err, engine.ErrValidation) {
		return notify.Message{Text: "❌ " + html.EscapeString(err.Error())}, nil
	}
	if err != nil {
		return notify.Message{Text: failureText}, err
	}

	var reply strings.Builder
	reply.WriteString(fmt.Sprintf("✅ Reminder set for <b>%s</b>", c.Reminders.FormatTime(r.FireAt)))
	if rec := c.Reminders.DescribeRecurrence(r); rec != "" {
		reply.WriteString(fmt.Sprintf(", %s", rec))
	}
	reply.WriteString("\n" + html.EscapeString(r.Text))
	if r.RequiresConfirmation {
		reply.WriteString(fmt.Sprintf("\n\n<i>I will ask every %s until you confirm.</i>", r.RetryInterval.Std()))
	}
	return notify.Message{
		Text: reply.String(),
		Buttons: [][]notify.Button{{
			{Text: "🗑 Delete", Data: engine.Action{Kind: engine.ActionDelete, ID: r.ID}.Data()},
		}},
	}, nil
}

func (c *Client) listReply(ctx context.Context, owner int64) (notify.Message, error) {
	rs, err := c.Reminders.ListReminders(ctx, owner)
	if err != nil {
		return notify.Message{Text: failureText}, err
	}
	return c.Reminders.RenderList(rs), nil
}

// actionResult is what the chat shows after a button press: a short
// callback answer and the text that replaces the pressed message.
type actionResult struct {
	Answer string
	Text   string
}

func (c *Client) applyAction(ctx context.Context, owner int64, data string) (actionResult, error) {
	action, err := engine.ParseAction(owner, data)
	if err != nil {
		return actionResult{Answer: "Unknown action."}, err
	}

	r, err := c.Reminders.Execute(ctx, action)
	if engine.IsBenign(err) {
		return actionResult{Answer: inactiveText}, nil
	}
	if err != nil {
		return actionResult{Answer: failureText}, err
	}

	text := html.EscapeString(r.Text)
	switch action.Kind {
	case engine.ActionConfirm:
		if r.IsOneShot() {
			return actionResult{Answer: "Done!", Text: "✅ Done: " + text}, nil
		}
		return actionResult{
			Answer: "Done!",
			Text:   fmt.Sprintf("✅ Done: %s\nNext time: %s", text, c.Reminders.FormatTime(r.FireAt)),
		}, nil
	case engine.ActionSkip:
		at := r.FireAt
		if !r.IsOneShot() && r.RetryAt != nil {
			at = *r.RetryAt
		}
		return actionResult{
			Answer: "Snoozed",
			Text:   fmt.Sprintf("⏰ %s\nI will ask again at %s", text, c.Reminders.FormatTime(at)),
		}, nil
	default:
		return actionResult{Answer: "Deleted", Text: "🗑 Deleted: " + text}, nil
	}
}

func (c *Client) startText(name string) string {
	return fmt.Sprintf("👋 Hi, %s! I will remind you of anything at the right time.\n\n%s", html.EscapeString(name), usageText)
}
