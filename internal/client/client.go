package client

import (
	"context"
	"time"

	"remindme/internal/engine"
	"remindme/internal/model"
	"remindme/internal/notify"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Reminders is the part of the engine the chat layer drives.
type Reminders interface {
	CreateReminder(ctx context.Context, req engine.CreateRequest) (model.Reminder, error)
	ListReminders(ctx context.Context, owner int64) ([]model.Reminder, error)
	Execute(ctx context.Context, a engine.Action) (model.Reminder, error)
	RenderList(rs []model.Reminder) notify.Message
	FormatTime(t time.Time) string
	DescribeRecurrence(r model.Reminder) string
	Location() *time.Location
}

type Config struct {
	// Telegram usernames, empty disables the check
	AllowedUsers map[string]struct{}
}

type Client struct {
	Logger    *logrus.Logger
	Reminders Reminders
	Config    Config
	Now       func() time.Time

	CommandCounter metric.Int64Counter
}

func NewClient(logger *logrus.Logger, reminders Reminders, config Config) *Client {
	meter := otel.Meter("remindme/client")
	commandCounter, err := meter.Int64Counter(
		"bot.commands.processed",
		metric.WithDescription("Counts the number of commands processed by the bot."),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		logger.Errorf("Failed to create command counter: %v", err)
	}

	return &Client{
		Logger:         logger,
		Reminders:      reminders,
		Config:         config,
		Now:            time.Now,
		CommandCounter: commandCounter,
	}
}
