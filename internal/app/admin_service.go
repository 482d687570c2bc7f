package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kkt_deadline_bot/internal/domain/clock"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")
var ErrStaffNotAuthorized = errors.New("performing user is not a staff member")

const (
	// summaryUpcomingLimit caps the nearest-deadline list in summaries.
	summaryUpcomingLimit = 10
	summaryFailedLimit   = 10
	summaryFailedWindow  = 24 * time.Hour
)

// AdminService backs the staff commands and the operator messages: summaries, on-demand
// checks, type management and run reports.
type AdminService struct {
	registry   *DeadlineRegistry
	cascade    *CascadePolicy
	scheduler  *NotificationScheduler
	sender     Sender
	recipients *RecipientResolver
	clock      clock.Clock
	logger     *logrus.Entry
}

func NewAdminService(registry *DeadlineRegistry, cascade *CascadePolicy, scheduler *NotificationScheduler, sender Sender, recipients *RecipientResolver, clk clock.Clock, logger *logrus.Entry) *AdminService {
	return &AdminService{
		registry:   registry,
		cascade:    cascade,
		scheduler:  scheduler,
		sender:     sender,
		recipients: recipients,
		clock:      clk,
		logger:     logger,
	}
}

func (s *AdminService) IsAdmin(telegramID int64) bool {
	return hasChat(s.recipients.Admins(), telegramID)
}

func (s *AdminService) IsStaff(telegramID int64) bool {
	return hasChat(s.recipients.Staff(), telegramID)
}

// Summary renders the current deadline summary for a staff member.
func (s *AdminService) Summary(ctx context.Context, performingID int64) (string, error) {
	if !s.IsStaff(performingID) {
		return "", ErrStaffNotAuthorized
	}
	return s.renderSummary(ctx)
}

// ClientDeadlines renders the active deadlines of one client for a staff member.
func (s *AdminService) ClientDeadlines(ctx context.Context, performingID, clientID int64) (string, error) {
	if !s.IsStaff(performingID) {
		return "", ErrStaffNotAuthorized
	}
	views, err := s.registry.ListByClient(ctx, clientID, true)
	if err != nil {
		return "", err
	}
	title := fmt.Sprintf("📋 Дедлайны клиента %d", clientID)
	if len(views) > 0 {
		title = "📋 Дедлайны: " + views[0].ClientName
	}
	return FormatDeadlineList(title, views), nil
}

// RunCheck triggers a scheduler tick on demand.
func (s *AdminService) RunCheck(ctx context.Context, performingID int64) (*TickReport, error) {
	if !s.IsAdmin(performingID) {
		return nil, ErrAdminNotAuthorized
	}
	s.logger.WithField("admin_id", performingID).Info("Manual deadline check requested")
	return s.scheduler.Tick(ctx)
}

// DeleteType removes a deadline type on behalf of an admin.
func (s *AdminService) DeleteType(ctx context.Context, performingID, typeID int64) (*TypeDeletion, error) {
	if !s.IsAdmin(performingID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.cascade.DeleteType(ctx, typeID)
}

// UnprotectType clears the protection flag of a type on behalf of an admin.
func (s *AdminService) UnprotectType(ctx context.Context, performingID, typeID int64) (*deadline.Type, error) {
	if !s.IsAdmin(performingID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.cascade.Unprotect(ctx, typeID)
}

// SendDailySummary sends the summary to every staff member. One failed recipient does not
// stop the others.
func (s *AdminService) SendDailySummary(ctx context.Context) error {
	text, err := s.renderSummary(ctx)
	if err != nil {
		return fmt.Errorf("build daily summary: %w", err)
	}
	return s.broadcast(ctx, s.recipients.Staff(), text, deadline.UrgencyNone)
}

// ReportTick sends the run report to admins when the run delivered or failed anything.
func (s *AdminService) ReportTick(ctx context.Context, report *TickReport) error {
	if report == nil || (report.Sent == 0 && report.Failed == 0) {
		return nil
	}
	return s.broadcast(ctx, s.recipients.Admins(), FormatTickReport(report), deadline.UrgencyNone)
}

func (s *AdminService) renderSummary(ctx context.Context) (string, error) {
	sum, err := s.registry.Summary(ctx, summaryUpcomingLimit)
	if err != nil {
		return "", err
	}
	sum.Failed, err = s.scheduler.FailedDeliveries(ctx, summaryFailedWindow, summaryFailedLimit)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load failed deliveries for summary")
	}
	return FormatSummary(sum, s.clock.Now()), nil
}

func (s *AdminService) broadcast(ctx context.Context, recipients []notification.Recipient, text string, urgency deadline.Urgency) error {
	var errs []error
	for _, rcpt := range recipients {
		if err := s.sender.Send(ctx, rcpt, text, urgency); err != nil {
			s.logger.WithError(err).WithField("recipient", rcpt.String()).Error("Failed to send operator message")
			errs = append(errs, fmt.Errorf("send to %s: %w", rcpt, err))
		}
	}
	return errors.Join(errs...)
}

func hasChat(list []notification.Recipient, chatID int64) bool {
	for _, r := range list {
		if r.ChatID == chatID {
			return true
		}
	}
	return false
}
