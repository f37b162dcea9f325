package client

import (
	"remindme/internal/notify"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// SendMessage replies in the chat of the update. A callback edits the message
// its button belongs to instead.
func SendMessage(ctx *ext.Context, b *gotgbot.Bot, msg notify.Message) error {
	var err error
	markup := gotgbot.InlineKeyboardMarkup{InlineKeyboard: notify.InlineKeyboard(msg.Buttons)}

	if ctx.CallbackQuery != nil {
		_, _, err = ctx.CallbackQuery.Message.EditText(b, msg.Text, &gotgbot.EditMessageTextOpts{
			ParseMode:   "HTML",
			ReplyMarkup: markup,
		})
	} else {
		_, err = b.SendMessage(ctx.EffectiveChat.Id, msg.Text, &gotgbot.SendMessageOpts{
			ParseMode:   "HTML",
			ReplyMarkup: markup,
		})
	}

	return err
}
