package client

import (
	"fmt"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// authorize checks the user against the allowed list.
func (c *Client) authorize(user gotgbot.User) error {
	if len(c.Config.AllowedUsers) == 0 {
		return nil
	}
	if _, ok := c.Config.AllowedUsers[user.Username]; !ok {
		return fmt.Errorf("user %s is not allowed", user.Username)
	}
	return nil
}

// authUser authenticates the sender of the update and returns it.
func (c *Client) authUser(ctx *ext.Context) (gotgbot.User, error) {
	_, user := c.getUserFromContext(ctx)
	if err := c.authorize(user); err != nil {
		c.Logger.WithField("user_id", user.Id).Warn(err)
		return user, err
	}
	return user, nil
}

func (c *Client) getUserFromContext(ctx *ext.Context) (isInline bool, user gotgbot.User) {
	if ctx.CallbackQuery != nil {
		return true, ctx.CallbackQuery.From
	}
	return false, *ctx.EffectiveMessage.From
}
