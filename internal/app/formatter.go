package app

import (
	"fmt"
	"html"
	"strings"
	"time"

	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"
)

const dateLayout = "02.01.2006"

var urgencyEmoji = map[deadline.Urgency]string{
	deadline.UrgencyGreen:   "🟢",
	deadline.UrgencyYellow:  "🟡",
	deadline.UrgencyRed:     "🔴",
	deadline.UrgencyExpired: "❌",
}

var urgencyLabel = map[deadline.Urgency]string{
	deadline.UrgencyGreen:   "Безопасно (&gt;14 дней)",
	deadline.UrgencyYellow:  "Внимание (8-14 дней)",
	deadline.UrgencyRed:     "Срочно (0-7 дней)",
	deadline.UrgencyExpired: "Просрочено",
}

func UrgencyEmoji(u deadline.Urgency) string {
	if e, ok := urgencyEmoji[u]; ok {
		return e
	}
	return "⚪"
}

// FormatNotification renders a deadline alert as Telegram HTML.
func FormatNotification(v DeadlineView, reminder bool) string {
	var b strings.Builder
	title := "Уведомление о дедлайне"
	if reminder {
		title = "Напоминание о дедлайне"
	}
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", UrgencyEmoji(v.Urgency), title)
	fmt.Fprintf(&b, "<b>Клиент:</b> %s", html.EscapeString(v.ClientName))
	if v.ClientTaxID != "" {
		fmt.Fprintf(&b, " (ИНН: %s)", html.EscapeString(v.ClientTaxID))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "<b>Сервис:</b> %s\n", html.EscapeString(typeNameOrDefault(v.TypeName)))
	fmt.Fprintf(&b, "<b>Дата окончания:</b> %s\n", v.Deadline.ExpirationDate.Format(dateLayout))
	fmt.Fprintf(&b, "<b>%s</b>\n", daysText(v.DaysRemaining))
	if v.Urgency.IsUrgent() {
		b.WriteString("\n⚠️ Пожалуйста, примите меры!")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatDeadlineList renders a numbered deadline list under a title.
func FormatDeadlineList(title string, views []DeadlineView) string {
	if len(views) == 0 {
		return "📭 Нет дедлайнов"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(title))
	for i, v := range views {
		fmt.Fprintf(&b, "%d. %s <b>%s</b>\n   %s - %s (%s)\n",
			i+1, UrgencyEmoji(v.Urgency), html.EscapeString(v.ClientName),
			html.EscapeString(typeNameOrDefault(v.TypeName)),
			v.Deadline.ExpirationDate.Format(dateLayout), daysText(v.DaysRemaining))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSummary renders the daily bucket tally and the nearest deadlines.
func FormatSummary(s *Summary, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>📊 Сводка по дедлайнам на %s</b>\n\n", s.Date.Format(dateLayout))
	fmt.Fprintf(&b, "Активных дедлайнов: <b>%d</b>\n", s.Tally.Total())
	for _, u := range deadline.Buckets {
		fmt.Fprintf(&b, "   %s %s: <b>%d</b>\n", UrgencyEmoji(u), urgencyLabel[u], s.Tally[u])
	}
	if len(s.Upcoming) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatDeadlineList("Ближайшие дедлайны", s.Upcoming))
		b.WriteString("\n")
	}
	if len(s.Failed) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatFailedDeliveries(s.Failed))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n🕒 Обновлено: %s", now.Format("02.01.2006 15:04"))
	return b.String()
}

// FormatTickReport renders the operator report of one scheduler run.
func FormatTickReport(r *TickReport) string {
	var b strings.Builder
	b.WriteString("<b>🔔 Проверка дедлайнов завершена</b>\n\n")
	fmt.Fprintf(&b, "Проверено дедлайнов: %d\n", r.Evaluated)
	fmt.Fprintf(&b, "Отправлено уведомлений: %d\n", r.Sent)
	fmt.Fprintf(&b, "Ошибок доставки: %d\n", r.Failed)
	if len(r.Failures) > 0 {
		b.WriteString("\n<b>Не доставлено:</b>\n")
		for _, f := range r.Failures {
			reason := "unknown"
			if f.Err != nil {
				reason = f.Err.Error()
			}
			fmt.Fprintf(&b, "• дедлайн %d → %s: %s\n",
				f.Intent.DeadlineID, f.Intent.Recipient, html.EscapeString(reason))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFailedDeliveries lists logged delivery failures, newest first.
func FormatFailedDeliveries(logs []*notification.DeliveryLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>⚠️ Недоставленные уведомления за сутки: %d</b>\n", len(logs))
	for _, l := range logs {
		reason := "unknown"
		if l.Error.Valid {
			reason = l.Error.String
		}
		fmt.Fprintf(&b, "• %s дедлайн %d → чат %d (попыток: %d): %s\n",
			l.CreatedAt.Format("02.01 15:04"), l.DeadlineID, l.RecipientChatID, l.Attempts, html.EscapeString(reason))
	}
	return strings.TrimRight(b.String(), "\n")
}

func typeNameOrDefault(name string) string {
	if name == "" {
		return "Тип удалён"
	}
	return name
}

func daysText(days int) string {
	if days < 0 {
		return fmt.Sprintf("Просрочено на %d дн.", -days)
	}
	return fmt.Sprintf("Осталось %d дн.", days)
}
