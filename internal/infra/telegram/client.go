// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"fmt"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"

	"gopkg.in/telebot.v3"
)

// MessageSender is the part of *telebot.Bot the adapter needs.
type MessageSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotAdapter delivers rendered notifications through the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot MessageSender
}

func NewTelebotAdapter(b MessageSender) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// Send sends an HTML message to the recipient chat. Green notices are delivered silently.
//
// telebot takes no context, so when ctx ends first the request keeps running in the
// background and may still be delivered. A retry after that sends a duplicate. The bot's
// HTTP client timeout (TELEGRAM_HTTP_TIMEOUT) must stay below the per-attempt timeout so
// the request settles before the attempt is abandoned; config enforces this.
func (tba *TelebotAdapter) Send(ctx context.Context, recipient notification.Recipient, message string, urgency deadline.Urgency) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	options := &telebot.SendOptions{
		ParseMode:             telebot.ModeHTML,
		DisableWebPagePreview: true,
		DisableNotification:   urgency == deadline.UrgencyGreen,
	}

	chat := &telebot.Chat{ID: recipient.ChatID}
	done := make(chan error, 1)
	go func() {
		_, err := tba.bot.Send(chat, message, options)
		done <- err
	}()

	select {
	case err := <-done:
		return classifySendError(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifySendError marks errors that will fail again on retry as permanent: the chat is
// gone or the bot is blocked. Flood control and network errors stay transient.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, telebot.ErrBlockedByUser),
		errors.Is(err, telebot.ErrChatNotFound),
		errors.Is(err, telebot.ErrUserIsDeactivated),
		errors.Is(err, telebot.ErrNotStartedByUser),
		errors.Is(err, telebot.ErrKickedFromGroup):
		return fmt.Errorf("%w: %v", apperr.ErrPermanentDelivery, err)
	}

	var apiErr *telebot.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 400 || apiErr.Code == 403) {
		return fmt.Errorf("%w: %v", apperr.ErrPermanentDelivery, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrTransientDelivery, err)
}
