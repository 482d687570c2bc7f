package httpapi

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kkt_deadline_bot/internal/app"
	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/notification"
)

const dateLayout = "2006-01-02"

type createDeadlineRequest struct {
	ClientID       int64  `json:"client_id"`
	CashRegisterID int64  `json:"cash_register_id"`
	DeadlineTypeID int64  `json:"deadline_type_id"`
	ExpirationDate string `json:"expiration_date"`
	Notes          string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type renewRequest struct {
	ExpirationDate string `json:"expiration_date"`
}

type createTypeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Protected   bool   `json:"protected"`
}

// complianceDatesRequest replaces both tracked dates; a missing or null field clears it.
type complianceDatesRequest struct {
	FNReplacementDate *string `json:"fn_replacement_date"`
	OFDRenewalDate    *string `json:"ofd_renewal_date"`
}

type createRegisterRequest struct {
	ClientID     int64  `json:"client_id"`
	SerialNumber string `json:"serial_number"`
	FNNumber     string `json:"fn_number"`
	Model        string `json:"model"`
	complianceDatesRequest
}

type deadlineResponse struct {
	ID             int64  `json:"id"`
	ClientID       int64  `json:"client_id"`
	ClientName     string `json:"client_name,omitempty"`
	CashRegisterID *int64 `json:"cash_register_id"`
	DeadlineTypeID *int64 `json:"deadline_type_id"`
	TypeName       string `json:"type_name,omitempty"`
	ExpirationDate string `json:"expiration_date"`
	Status         string `json:"status"`
	Urgency        string `json:"urgency,omitempty"`
	DaysRemaining  *int   `json:"days_remaining,omitempty"`
	Notes          string `json:"notes,omitempty"`
	RenewedFromID  *int64 `json:"renewed_from_id,omitempty"`
}

type typeResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
	IsProtected bool   `json:"is_protected"`
}

type typeDeletionResponse struct {
	TypeID            int64  `json:"type_id"`
	TypeName          string `json:"type_name"`
	OrphanedDeadlines int64  `json:"orphaned_deadlines"`
}

type hookResultResponse struct {
	Field          string `json:"field"`
	Action         string `json:"action"`
	DeadlineID     int64  `json:"deadline_id,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
}

type registerResponse struct {
	ID        int64                `json:"id"`
	Deadlines []hookResultResponse `json:"deadlines"`
}

type failureResponse struct {
	DeadlineID int64  `json:"deadline_id"`
	Recipient  string `json:"recipient"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

type tickResponse struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Evaluated  int               `json:"evaluated"`
	Planned    int               `json:"planned"`
	Skipped    int               `json:"skipped"`
	Sent       int               `json:"sent"`
	Failed     int               `json:"failed"`
	Stale      int               `json:"stale"`
	Failures   []failureResponse `json:"failures"`
}

type cashRegisterResponse struct {
	ID                int64   `json:"id"`
	ClientID          int64   `json:"client_id"`
	SerialNumber      string  `json:"serial_number"`
	FNNumber          string  `json:"fn_number,omitempty"`
	Model             string  `json:"model,omitempty"`
	FNReplacementDate *string `json:"fn_replacement_date"`
	OFDRenewalDate    *string `json:"ofd_renewal_date"`
	IsActive          bool    `json:"is_active"`
}

type deliveryFailureResponse struct {
	ID              int64     `json:"id"`
	DeadlineID      int64     `json:"deadline_id"`
	RecipientChatID int64     `json:"recipient_chat_id"`
	Urgency         string    `json:"urgency"`
	Attempts        int       `json:"attempts"`
	Error           string    `json:"error"`
	CreatedAt       time.Time `json:"created_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be a date in %s format", field, dateLayout)
	}
	return t, nil
}

func parseOptionalDate(field string, raw *string) (sql.NullTime, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return sql.NullTime{}, nil
	}
	t, err := parseDate(field, *raw)
	if err != nil {
		return sql.NullTime{}, err
	}
	return sql.NullTime{Time: t, Valid: true}, nil
}

func (r complianceDatesRequest) toDates() (equipment.ComplianceDates, error) {
	fn, err := parseOptionalDate(string(equipment.FieldFNReplacement), r.FNReplacementDate)
	if err != nil {
		return equipment.ComplianceDates{}, err
	}
	ofd, err := parseOptionalDate(string(equipment.FieldOFDRenewal), r.OFDRenewalDate)
	if err != nil {
		return equipment.ComplianceDates{}, err
	}
	return equipment.ComplianceDates{FNReplacementDate: fn, OFDRenewalDate: ofd}, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func toDeadlineResponse(d *deadline.Deadline) deadlineResponse {
	return deadlineResponse{
		ID:             d.ID,
		ClientID:       d.ClientID,
		CashRegisterID: nullInt(d.CashRegisterID),
		DeadlineTypeID: nullInt(d.DeadlineTypeID),
		ExpirationDate: d.ExpirationDate.Format(dateLayout),
		Status:         string(d.Status),
		Notes:          d.Notes,
		RenewedFromID:  nullInt(d.RenewedFromID),
	}
}

func toViewResponse(v app.DeadlineView) deadlineResponse {
	resp := toDeadlineResponse(v.Deadline)
	resp.ClientName = v.ClientName
	resp.TypeName = v.TypeName
	resp.Urgency = v.Urgency.String()
	days := v.DaysRemaining
	resp.DaysRemaining = &days
	return resp
}

func formatOptionalDate(v sql.NullTime) *string {
	if !v.Valid {
		return nil
	}
	s := v.Time.Format(dateLayout)
	return &s
}

func toCashRegisterResponse(reg *equipment.CashRegister) cashRegisterResponse {
	return cashRegisterResponse{
		ID:                reg.ID,
		ClientID:          reg.ClientID,
		SerialNumber:      reg.SerialNumber,
		FNNumber:          reg.FNNumber.String,
		Model:             reg.Model.String,
		FNReplacementDate: formatOptionalDate(reg.Dates.FNReplacementDate),
		OFDRenewalDate:    formatOptionalDate(reg.Dates.OFDRenewalDate),
		IsActive:          reg.IsActive,
	}
}

func toDeliveryFailureResponse(l *notification.DeliveryLog) deliveryFailureResponse {
	return deliveryFailureResponse{
		ID:              l.ID,
		DeadlineID:      l.DeadlineID,
		RecipientChatID: l.RecipientChatID,
		Urgency:         l.Urgency.String(),
		Attempts:        l.Attempts,
		Error:           l.Error.String,
		CreatedAt:       l.CreatedAt,
	}
}

func toTypeResponse(t *deadline.Type) typeResponse {
	return typeResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description.String,
		IsActive:    t.IsActive,
		IsProtected: t.IsProtected,
	}
}

func toHookResults(results []app.HookResult) []hookResultResponse {
	out := make([]hookResultResponse, 0, len(results))
	for _, r := range results {
		item := hookResultResponse{Field: string(r.Field), Action: string(r.Action), DeadlineID: r.DeadlineID}
		if !r.ExpirationDate.IsZero() {
			item.ExpirationDate = r.ExpirationDate.Format(dateLayout)
		}
		out = append(out, item)
	}
	return out
}

func toTickResponse(r *app.TickReport) tickResponse {
	resp := tickResponse{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Evaluated:  r.Evaluated,
		Planned:    r.Planned,
		Skipped:    r.Skipped,
		Sent:       r.Sent,
		Failed:     r.Failed,
		Stale:      r.Stale,
		Failures:   make([]failureResponse, 0, len(r.Failures)),
	}
	for _, f := range r.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		resp.Failures = append(resp.Failures, failureResponse{
			DeadlineID: f.Intent.DeadlineID,
			Recipient:  fmt.Sprint(f.Intent.Recipient),
			Attempts:   f.Attempts,
			Error:      msg,
		})
	}
	return resp
}
