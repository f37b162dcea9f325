package client

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
)

// Create a matcher which only matches text which is not a command.
func noCommands(msg *gotgbot.Message) bool {
	return message.Text(msg) && !message.Command(msg)
}

// Commands lists the bot commands shown in the Telegram menu.
var Commands = []gotgbot.BotCommand{
	{Command: "list", Description: "Your reminders"},
	{Command: "daily", Description: "Every day: /daily HH:MM text"},
	{Command: "weekly", Description: "Every week: /weekly HH:MM text"},
	{Command: "every", Description: "On weekdays: /every mon,thu HH:MM text"},
	{Command: "confirm", Description: "Ask until confirmed: /confirm HH:MM text"},
	{Command: "help", Description: "How to add reminders"},
}

func SetupHandlers(dispatcher *ext.Dispatcher, c *Client) {
	dispatcher.AddHandler(handlers.NewCommand("start", c.counted("/start", c.Start)))
	dispatcher.AddHandler(handlers.NewCommand("help", c.counted("/help", c.Help)))
	dispatcher.AddHandler(handlers.NewCommand("list", c.counted("/list", c.List)))

	for _, cmd := range []string{"daily", "weekly", "every", "confirm"} {
		dispatcher.AddHandler(handlers.NewCommand(cmd, c.counted("/"+cmd, c.AddReminder)))
	}
	dispatcher.AddHandler(handlers.NewMessage(noCommands, c.counted("text", c.AddReminder)))

	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix("rem."), c.counted("callback_rem", c.ReminderAction)))
}

// counted records the command before running the handler.
func (c *Client) counted(name string, h handlers.Response) handlers.Response {
	return func(b *gotgbot.Bot, ctx *ext.Context) error {
		if c.CommandCounter != nil {
			c.CommandCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command.name", name)))
		}
		return h(b, ctx)
	}
}
