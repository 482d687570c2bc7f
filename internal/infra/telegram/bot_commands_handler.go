// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"kkt_deadline_bot/internal/app"
	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const commandTimeout = 30 * time.Second

const msgUnauthorized = "Ошибка: У вас нет прав для выполнения этой команды."

// StaffService is what the bot commands need from the application layer.
type StaffService interface {
	IsAdmin(telegramID int64) bool
	IsStaff(telegramID int64) bool
	Summary(ctx context.Context, performingID int64) (string, error)
	ClientDeadlines(ctx context.Context, performingID, clientID int64) (string, error)
	RunCheck(ctx context.Context, performingID int64) (*app.TickReport, error)
	DeleteType(ctx context.Context, performingID, typeID int64) (*app.TypeDeletion, error)
	UnprotectType(ctx context.Context, performingID, typeID int64) (*deadline.Type, error)
}

// Commands turns bot commands into replies. Each method returns the HTML reply text.
type Commands struct {
	service StaffService
	logger  *logrus.Entry
}

func NewCommands(service StaffService, logger *logrus.Entry) *Commands {
	return &Commands{service: service, logger: logger}
}

var htmlReply = &telebot.SendOptions{ParseMode: telebot.ModeHTML}

// RegisterBotCommands attaches the general commands to the bot.
func RegisterBotCommands(ctx context.Context, b *telebot.Bot, cmds *Commands) {
	b.Handle("/start", func(c telebot.Context) error {
		return c.Send(cmds.Start(c.Sender().ID, c.Sender().FirstName), htmlReply)
	})
	b.Handle("/help", func(c telebot.Context) error {
		return c.Send(cmds.Help(c.Sender().ID), htmlReply)
	})
	b.Handle("/deadlines", func(c telebot.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return c.Send(cmds.Deadlines(cmdCtx, c.Sender().ID, c.Args()), htmlReply)
	})
}

func (h *Commands) Start(senderID int64, firstName string) string {
	logCtx := h.logger.WithFields(logrus.Fields{"command": "/start", "sender_id": senderID})
	logCtx.Info("Processing /start command")

	name := html.EscapeString(firstName)
	switch {
	case h.service.IsAdmin(senderID):
		logCtx.Info("User identified as Admin")
		return fmt.Sprintf("Привет, Администратор %s! Я слежу за сроками замены ФН и продления ОФД. Используйте /help для списка команд.", name)
	case h.service.IsStaff(senderID):
		logCtx.Info("User identified as Manager")
		return fmt.Sprintf("Привет, %s! Я буду присылать уведомления о сроках ККТ ваших клиентов. Используйте /help для списка команд.", name)
	}
	logCtx.Info("User is unknown")
	return fmt.Sprintf("Привет! Ваш Telegram ID: <code>%d</code>. Передайте его менеджеру, чтобы получать уведомления о сроках вашей кассовой техники.", senderID)
}

func (h *Commands) Help(senderID int64) string {
	logCtx := h.logger.WithFields(logrus.Fields{"command": "/help", "sender_id": senderID})
	logCtx.Info("Processing /help command")

	if !h.service.IsStaff(senderID) {
		return "Я присылаю уведомления о приближающихся сроках замены ФН и продления договора ОФД. Команд для вас нет."
	}

	var helpText strings.Builder
	helpText.WriteString("<b>Доступные команды:</b>\n\n")
	helpText.WriteString("<code>/deadlines &lt;ID клиента&gt;</code>\n - Активные дедлайны клиента.\n\n")
	helpText.WriteString("<code>/summary</code>\n - Сводка по всем дедлайнам.\n\n")
	if h.service.IsAdmin(senderID) {
		helpText.WriteString("<code>/check</code>\n - Запустить проверку дедлайнов и рассылку сейчас.\n\n")
		helpText.WriteString("<code>/delete_type &lt;ID типа&gt;</code>\n - Удалить тип дедлайна (дедлайны сохранятся без типа).\n\n")
		helpText.WriteString("<code>/unprotect_type &lt;ID типа&gt;</code>\n - Снять защиту с системного типа.\n\n")
	}
	helpText.WriteString("<code>/help</code>\n - Показать это справочное сообщение.")
	return helpText.String()
}

func (h *Commands) Deadlines(ctx context.Context, senderID int64, args []string) string {
	logCtx := h.logger.WithFields(logrus.Fields{"command": "/deadlines", "sender_id": senderID})

	// Expected format: /deadlines <client_id>
	if len(args) != 1 {
		return "Неверный формат команды. Используйте: /deadlines &lt;ID клиента&gt;"
	}
	clientID, err := parseID(args[0])
	if err != nil {
		return "Ошибка: ID клиента должен быть положительным числом."
	}

	text, err := h.service.ClientDeadlines(ctx, senderID, clientID)
	if err != nil {
		return h.replyError(logCtx.WithField("client_id", clientID), err)
	}
	return text
}

// replyError logs err and renders the user-facing reply for it.
func (h *Commands) replyError(logCtx *logrus.Entry, err error) string {
	logWithError := logCtx.WithError(err)
	switch {
	case errors.Is(err, app.ErrAdminNotAuthorized), errors.Is(err, app.ErrStaffNotAuthorized):
		logWithError.Warn("Unauthorized access attempt")
		return msgUnauthorized
	case errors.Is(err, app.ErrTickInProgress):
		logWithError.Info("Check already running")
		return "Проверка уже выполняется, попробуйте позже."
	case errors.Is(err, apperr.ErrNotFound):
		logWithError.Warn("Entity not found")
		return "Не найдено: " + html.EscapeString(err.Error())
	case errors.Is(err, apperr.ErrPolicyViolation):
		logWithError.Warn("Operation refused by policy")
		return "Операция запрещена: " + html.EscapeString(err.Error())
	case errors.Is(err, apperr.ErrValidation):
		logWithError.Warn("Invalid input")
		return "Ошибка ввода: " + html.EscapeString(err.Error())
	}
	logWithError.Error("Command failed")
	return "Произошла ошибка. Пожалуйста, попробуйте позже."
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive, got %d", id)
	}
	return id, nil
}
