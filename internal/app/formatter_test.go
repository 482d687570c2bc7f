package app

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"
)

func TestFormatNotification(t *testing.T) {
	exp := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	view := DeadlineView{
		Deadline:      &deadline.Deadline{ExpirationDate: exp},
		ClientName:    "ООО <Ромашка> & Ко",
		ClientTaxID:   "7701234567",
		TypeName:      "Замена ФН",
		Urgency:       deadline.UrgencyRed,
		DaysRemaining: 3,
	}

	msg := FormatNotification(view, false)
	assert.Contains(t, msg, "🔴")
	assert.Contains(t, msg, "ООО &lt;Ромашка&gt; &amp; Ко")
	assert.Contains(t, msg, "ИНН: 7701234567")
	assert.Contains(t, msg, "10.03.2026")
	assert.Contains(t, msg, "Осталось 3 дн.")
	assert.Contains(t, msg, "примите меры")

	view.Urgency = deadline.UrgencyExpired
	view.DaysRemaining = -2
	view.TypeName = ""
	msg = FormatNotification(view, true)
	assert.Contains(t, msg, "❌")
	assert.Contains(t, msg, "Напоминание")
	assert.Contains(t, msg, "Просрочено на 2 дн.")
	assert.Contains(t, msg, "Тип удалён")

	view.Urgency = deadline.UrgencyGreen
	view.DaysRemaining = 40
	assert.NotContains(t, FormatNotification(view, false), "примите меры")
}

func TestFormatSummary(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	sum := &Summary{
		Date:  deadline.DateOf(now),
		Tally: deadline.Tally{deadline.UrgencyRed: 2, deadline.UrgencyGreen: 5},
	}
	text := FormatSummary(sum, now)
	assert.Contains(t, text, "02.03.2026")
	assert.Contains(t, text, "Активных дедлайнов: <b>7</b>")
	assert.Contains(t, text, "🔴 Срочно (0-7 дней): <b>2</b>")
	assert.Contains(t, text, "❌ Просрочено: <b>0</b>")
	assert.NotContains(t, text, "Ближайшие")
}

func TestFormatTickReport(t *testing.T) {
	report := &TickReport{
		Evaluated: 4,
		Sent:      3,
		Failed:    1,
		Failures: []notification.Result{{
			Intent: notification.Intent{DeadlineID: 42, Recipient: notification.Recipient{ChatID: 7, Kind: notification.RecipientContact}},
			Err:    errors.New("Forbidden: bot was blocked by the user"),
		}},
	}
	text := FormatTickReport(report)
	assert.Contains(t, text, "Проверено дедлайнов: 4")
	assert.Contains(t, text, "дедлайн 42 → client_contact:7")
	assert.Contains(t, text, "blocked by the user")
}

func TestFormatDeadlineListEmpty(t *testing.T) {
	assert.Equal(t, "📭 Нет дедлайнов", FormatDeadlineList("any", nil))
}
