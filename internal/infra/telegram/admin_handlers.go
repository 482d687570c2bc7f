package telegram

import (
	"context"
	"fmt"
	"html"
	"time"

	"kkt_deadline_bot/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers attaches the staff and admin commands to the bot.
// Authorization is checked by the service for every command.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, cmds *Commands, checkTimeout time.Duration) {
	b.Handle("/summary", func(c telebot.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return c.Send(cmds.Summary(cmdCtx, c.Sender().ID), htmlReply)
	})
	b.Handle("/check", func(c telebot.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		return c.Send(cmds.Check(cmdCtx, c.Sender().ID), htmlReply)
	})
	b.Handle("/delete_type", func(c telebot.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return c.Send(cmds.DeleteType(cmdCtx, c.Sender().ID, c.Args()), htmlReply)
	})
	b.Handle("/unprotect_type", func(c telebot.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return c.Send(cmds.UnprotectType(cmdCtx, c.Sender().ID, c.Args()), htmlReply)
	})
}

func (h *Commands) Summary(ctx context.Context, senderID int64) string {
	logCtx := h.logger.WithFields(logrus.Fields{"command": "/summary", "sender_id": senderID})
	text, err := h.service.Summary(ctx, senderID)
	if err != nil {
		return h.replyError(logCtx, err)
	}
	return text
}

func (h *Commands) Check(ctx context.Context, senderID int64) string {
	logCtx := h.logger.WithFields(logrus.Fields{"command": "/check", "sender_id": senderID})
	logCtx.Info("Command received")

	report, err := h.service.RunCheck(ctx, senderID)
	if report == nil {
		if err == nil {
			err = fmt.Errorf("check returned no report")
		}
		return h.replyError(logCtx, err)
	}
	if err != nil {
		logCtx.WithError(err).Warn("Check finished with errors")
	}
	return app.FormatTickReport(report)
}

func (h *Commands) DeleteType(ctx context.Context, senderID int64, args []string) string {
	logCtx := h.logger.WithFields(logrus.Fields{"command": "/delete_type", "sender_id": senderID})
	if !h.service.IsAdmin(senderID) {
		logCtx.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}

	// Expected format: /delete_type <type_id>
	if len(args) != 1 {
		return "Неверный формат команды. Используйте: /delete_type &lt;ID типа&gt;"
	}
	typeID, err := parseID(args[0])
	if err != nil {
		return "Ошибка: ID типа должен быть положительным числом."
	}
	logCtx = logCtx.WithField("type_id", typeID)

	res, err := h.service.DeleteType(ctx, senderID, typeID)
	if err != nil {
		return h.replyError(logCtx, err)
	}
	logCtx.WithField("orphaned", res.OrphanedDeadlines).Info("Deadline type deleted")
	return fmt.Sprintf("Тип «%s» (ID: %d) удалён. Дедлайнов без типа: %d.",
		html.EscapeString(res.TypeName), res.TypeID, res.OrphanedDeadlines)
}

func (h *Commands) UnprotectType(ctx context.Context, senderID int64, args []string) string {
	logCtx := h.logger.WithFields(logrus.Fields{"command": "/unprotect_type", "sender_id": senderID})
	if !h.service.IsAdmin(senderID) {
		logCtx.Warn("Unauthorized access attempt")
		return msgUnauthorized
	}

	// Expected format: /unprotect_type <type_id>
	if len(args) != 1 {
		return "Неверный формат команды. Используйте: /unprotect_type &lt;ID типа&gt;"
	}
	typeID, err := parseID(args[0])
	if err != nil {
		return "Ошибка: ID типа должен быть положительным числом."
	}

	t, err := h.service.UnprotectType(ctx, senderID, typeID)
	if err != nil {
		return h.replyError(logCtx.WithField("type_id", typeID), err)
	}
	return fmt.Sprintf("Защита с типа «%s» (ID: %d) снята. Теперь его можно удалить.", html.EscapeString(t.Name), t.ID)
}
