package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"
)

type fakeBot struct {
	err     error
	to      telebot.Recipient
	what    interface{}
	options *telebot.SendOptions
	block   chan struct{}
}

func (f *fakeBot) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.to, f.what = to, what
	for _, o := range opts {
		if so, ok := o.(*telebot.SendOptions); ok {
			f.options = so
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &telebot.Message{}, nil
}

var rcpt = notification.Recipient{ChatID: 42, Kind: notification.RecipientContact}

func TestTelebotAdapterSend(t *testing.T) {
	t.Run("sends html to the recipient chat", func(t *testing.T) {
		bot := &fakeBot{}
		err := NewTelebotAdapter(bot).Send(context.Background(), rcpt, "<b>hi</b>", deadline.UrgencyRed)
		require.NoError(t, err)

		assert.Equal(t, "42", bot.to.Recipient())
		assert.Equal(t, "<b>hi</b>", bot.what)
		require.NotNil(t, bot.options)
		assert.Equal(t, telebot.ModeHTML, bot.options.ParseMode)
		assert.False(t, bot.options.DisableNotification)
	})

	t.Run("green notices are silent", func(t *testing.T) {
		bot := &fakeBot{}
		require.NoError(t, NewTelebotAdapter(bot).Send(context.Background(), rcpt, "ok", deadline.UrgencyGreen))
		assert.True(t, bot.options.DisableNotification)
	})

	t.Run("cancelled context", func(t *testing.T) {
		bot := &fakeBot{block: make(chan struct{})}
		defer close(bot.block)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewTelebotAdapter(bot).Send(ctx, rcpt, "ok", deadline.UrgencyRed)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"blocked by user", telebot.ErrBlockedByUser, apperr.ErrPermanentDelivery},
		{"chat not found", telebot.ErrChatNotFound, apperr.ErrPermanentDelivery},
		{"deactivated user", telebot.ErrUserIsDeactivated, apperr.ErrPermanentDelivery},
		{"other forbidden", &telebot.Error{Code: 403, Description: "Forbidden: something"}, apperr.ErrPermanentDelivery},
		{"bad request", &telebot.Error{Code: 400, Description: "Bad Request: can't parse entities"}, apperr.ErrPermanentDelivery},
		{"server error", &telebot.Error{Code: 502, Description: "Bad Gateway"}, apperr.ErrTransientDelivery},
		{"network", errors.New("dial tcp: i/o timeout"), apperr.ErrTransientDelivery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifySendError(tt.err), tt.want)
		})
	}
	assert.NoError(t, classifySendError(nil))
}
