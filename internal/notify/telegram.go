package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Telegram keeps the whole bot under 30 messages per second.
const DEFAULT_RATE_PER_SECOND = 25

type messageSender interface {
	SendMessage(chatId int64, text string, opts *gotgbot.SendMessageOpts) (*gotgbot.Message, error)
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	bot     messageSender
	limiter *rate.Limiter
	logger  *logrus.Logger
}

func NewTelegram(bot *gotgbot.Bot, ratePerSecond float64, logger *logrus.Logger) *Telegram {
	return newTelegram(bot, ratePerSecond, logger)
}

func newTelegram(bot messageSender, ratePerSecond float64, logger *logrus.Logger) *Telegram {
	if ratePerSecond <= 0 {
		ratePerSecond = DEFAULT_RATE_PER_SECOND
	}
	return &Telegram{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		logger:  logger,
	}
}

func (t *Telegram) Send(ctx context.Context, owner int64, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %v", ErrDispatch, err)
	}

	opts := &gotgbot.SendMessageOpts{
		ParseMode: "HTML",
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.RequestOpts = &gotgbot.RequestOpts{Timeout: time.Until(deadline)}
	}
	if len(msg.Buttons) > 0 {
		opts.ReplyMarkup = gotgbot.InlineKeyboardMarkup{InlineKeyboard: InlineKeyboard(msg.Buttons)}
	}

	if _, err := t.bot.SendMessage(owner, msg.Text, opts); err != nil {
		t.logger.WithField("owner", owner).Warnf("Failed to send message: %v", err)
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return nil
}

// InlineKeyboard converts button rows to the Bot API shape.
func InlineKeyboard(rows [][]Button) [][]gotgbot.InlineKeyboardButton {
	out := make([][]gotgbot.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		r := make([]gotgbot.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			r = append(r, gotgbot.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		out = append(out, r)
	}
	return out
}
