// Package notify delivers rendered reminder messages to a user's channel.
package notify

import (
	"context"
	"errors"
)

// ErrDispatch wraps every delivery failure.
var ErrDispatch = errors.New("dispatch failed")

// Button is an inline action attached to a message. Data is opaque to the
// transport and comes back verbatim when the user presses the button.
type Button struct {
	Text string
	Data string
}

// Message is a rendered notification. Text is HTML.
type Message struct {
	Text    string
	Buttons [][]Button
}

// Dispatcher sends a message to the owner.
type Dispatcher interface {
	Send(ctx context.Context, owner int64, msg Message) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, owner int64, msg Message) error

func (f DispatcherFunc) Send(ctx context.Context, owner int64, msg Message) error {
	return f(ctx, owner, msg)
}
