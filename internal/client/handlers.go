package client

import (
	"context"
	"time"

	"remindme/internal/notify"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/sirupsen/logrus"
)

const handlerTimeout = 15 * time.Second

// Start introduces the bot.
func (c *Client) Start(b *gotgbot.Bot, ctx *ext.Context) error {
	user, err := c.authUser(ctx)
	if err != nil {
		return err
	}
	name := user.FirstName
	if name == "" {
		name = user.Username
	}
	return SendMessage(ctx, b, notify.Message{Text: c.startText(name)})
}

func (c *Client) Help(b *gotgbot.Bot, ctx *ext.Context) error {
	if _, err := c.authUser(ctx); err != nil {
		return err
	}
	return SendMessage(ctx, b, notify.Message{Text: usageText})
}

// List shows the user's reminders.
func (c *Client) List(b *gotgbot.Bot, ctx *ext.Context) error {
	user, err := c.authUser(ctx)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	msg, err := c.listReply(reqCtx, user.Id)
	if err != nil {
		c.Logger.WithField("owner", user.Id).Errorf("Failed to list reminders: %v", err)
	}
	return SendMessage(ctx, b, msg)
}

// AddReminder schedules the reminder typed in the message.
func (c *Client) AddReminder(b *gotgbot.Bot, ctx *ext.Context) error {
	user, err := c.authUser(ctx)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	msg, err := c.newReminderReply(reqCtx, user.Id, ctx.EffectiveMessage.Text)
	if err != nil {
		c.Logger.WithField("owner", user.Id).Errorf("Failed to create reminder: %v", err)
	}
	return SendMessage(ctx, b, msg)
}

// ReminderAction handles the Done, Skip and Delete buttons.
func (c *Client) ReminderAction(b *gotgbot.Bot, ctx *ext.Context) error {
	user, err := c.authUser(ctx)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	cb := ctx.CallbackQuery
	res, err := c.applyAction(reqCtx, user.Id, cb.Data)
	if err != nil {
		c.Logger.WithFields(logrus.Fields{
			"owner": user.Id,
			"data":  cb.Data,
		}).Errorf("Failed to handle reminder action: %v", err)
	}

	if _, err := cb.Answer(b, &gotgbot.AnswerCallbackQueryOpts{Text: res.Answer}); err != nil {
		c.Logger.Warnf("Failed to answer callback: %v", err)
	}
	if res.Text == "" {
		return nil
	}
	return SendMessage(ctx, b, notify.Message{Text: res.Text})
}
