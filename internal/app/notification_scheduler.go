package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/clock"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrTickInProgress is returned when a tick starts while another one is running.
var ErrTickInProgress = errors.New("deadline check already in progress")

const recordTimeout = 10 * time.Second

// Dispatcher delivers a batch of intents.
type Dispatcher interface {
	DispatchAll(ctx context.Context, intents []notification.Intent) []notification.Result
}

// TickReport summarizes one scheduler run.
type TickReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Evaluated  int // active deadlines of active clients
	Planned    int
	Skipped    int // deadline/recipient pairs with nothing new to say
	Sent       int
	Failed     int
	Stale      int // deliveries whose deadline changed before the outcome was recorded
	Failures   []notification.Result
}

// NotificationScheduler runs the periodic deadline check: classify, plan, dispatch and
// record. Only one tick runs at a time.
type NotificationScheduler struct {
	tx               store.Transactor
	clock            clock.Clock
	recipients       *RecipientResolver
	dispatcher       Dispatcher
	renotifyInterval time.Duration
	tickTimeout      time.Duration
	attempts         int
	metrics          *metrics.Metrics
	logger           *logrus.Entry

	mu sync.Mutex
}

type SchedulerOptions struct {
	RenotifyInterval time.Duration
	TickTimeout      time.Duration
	ConflictAttempts int
}

func NewNotificationScheduler(tx store.Transactor, clk clock.Clock, recipients *RecipientResolver, dispatcher Dispatcher, opts SchedulerOptions, m *metrics.Metrics, logger *logrus.Entry) *NotificationScheduler {
	return &NotificationScheduler{
		tx:               tx,
		clock:            clk,
		recipients:       recipients,
		dispatcher:       dispatcher,
		renotifyInterval: opts.RenotifyInterval,
		tickTimeout:      opts.TickTimeout,
		attempts:         opts.ConflictAttempts,
		metrics:          m,
		logger:           logger,
	}
}

// Tick performs one check. Delivery failures are counted in the report, not returned;
// the error covers planning and recording problems.
func (s *NotificationScheduler) Tick(ctx context.Context) (*TickReport, error) {
	if !s.mu.TryLock() {
		s.metrics.ObserveTick("skipped", 0)
		return nil, ErrTickInProgress
	}
	defer s.mu.Unlock()

	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
		defer cancel()
	}

	report := &TickReport{RunID: uuid.NewString(), StartedAt: s.clock.Now()}
	log := s.logger.WithField("run_id", report.RunID)
	log.Info("Starting deadline check")

	intents, err := s.plan(ctx, report)
	if err != nil {
		s.finish(report, "error")
		log.WithError(err).Error("Failed to plan notifications")
		return report, fmt.Errorf("plan notifications: %w", err)
	}

	results := s.dispatcher.DispatchAll(ctx, intents)

	var recordErrs []error
	for _, res := range results {
		if res.Succeeded() {
			report.Sent++
		} else {
			report.Failed++
			report.Failures = append(report.Failures, res)
		}
		if err := s.record(ctx, res, report); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"deadline_id": res.Intent.DeadlineID,
				"recipient":   res.Intent.Recipient.String(),
			}).Error("Failed to record notification outcome")
			recordErrs = append(recordErrs, err)
		}
	}

	result := "ok"
	if len(recordErrs) > 0 || report.Failed > 0 {
		result = "partial"
	}
	s.finish(report, result)
	log.WithFields(logrus.Fields{
		"evaluated": report.Evaluated,
		"planned":   report.Planned,
		"skipped":   report.Skipped,
		"sent":      report.Sent,
		"failed":    report.Failed,
		"stale":     report.Stale,
		"took":      report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Deadline check finished")

	if len(recordErrs) > 0 {
		return report, fmt.Errorf("record notification outcomes: %w", errors.Join(recordErrs...))
	}
	return report, nil
}

// FailedDeliveries returns failed deliveries logged within the last window, newest first.
func (s *NotificationScheduler) FailedDeliveries(ctx context.Context, window time.Duration, limit int) ([]*notification.DeliveryLog, error) {
	if window <= 0 || limit <= 0 {
		return nil, apperr.Validation("window and limit must be positive")
	}
	since := s.clock.Now().Add(-window)
	var logs []*notification.DeliveryLog
	err := s.tx.RunInTx(ctx, func(st store.Stores) error {
		var err error
		logs, err = st.Notifications.ListFailedDeliveries(ctx, since, limit)
		return err
	})
	return logs, err
}

func (s *NotificationScheduler) finish(report *TickReport, result string) {
	report.FinishedAt = s.clock.Now()
	s.metrics.ObserveTick(result, report.FinishedAt.Sub(report.StartedAt))
}

// plan classifies every active deadline and builds one intent per recipient whose marker
// is behind the current bucket or due for a reminder.
func (s *NotificationScheduler) plan(ctx context.Context, report *TickReport) ([]notification.Intent, error) {
	now := s.clock.Now()
	today := clock.Today(s.clock)

	var intents []notification.Intent
	err := s.tx.RunInTx(ctx, func(st store.Stores) error {
		intents = nil
		report.Evaluated, report.Planned, report.Skipped = 0, 0, 0

		list, err := st.Deadlines.List(ctx, deadline.ListFilter{Status: deadline.StatusActive})
		if err != nil {
			return err
		}
		views, err := enrichDeadlines(ctx, st, list, today, s.logger)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(views))
		for _, v := range views {
			ids = append(ids, v.Deadline.ID)
		}
		markers, err := st.Notifications.ListMarkers(ctx, ids)
		if err != nil {
			return err
		}
		byPair := make(map[int64]map[int64]*notification.Marker, len(ids))
		for _, m := range markers {
			if byPair[m.DeadlineID] == nil {
				byPair[m.DeadlineID] = make(map[int64]*notification.Marker)
			}
			byPair[m.DeadlineID][m.RecipientChatID] = m
		}

		for _, v := range views {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Evaluated++
			recipients, err := s.recipients.Resolve(ctx, st.Clients, v.Deadline)
			if err != nil {
				return err
			}
			var message, reminderMessage string
			for _, rcpt := range recipients {
				notify, reminder := shouldNotify(v.Urgency, byPair[v.Deadline.ID][rcpt.ChatID], now, s.renotifyInterval)
				if !notify {
					report.Skipped++
					continue
				}
				msg := &message
				if reminder {
					msg = &reminderMessage
				}
				if *msg == "" {
					*msg = FormatNotification(v, reminder)
				}
				intents = append(intents, notification.Intent{
					DeadlineID:     v.Deadline.ID,
					ExpirationDate: v.Deadline.ExpirationDate,
					Urgency:        v.Urgency,
					Recipient:      rcpt,
					Message:        *msg,
					Reminder:       reminder,
					PlannedAt:      now,
				})
			}
		}
		report.Planned = len(intents)
		return nil
	})
	return intents, err
}

// record logs the delivery and, on success, advances the recipient's marker. The marker is
// left alone when the deadline changed since planning, so the next tick starts fresh.
func (s *NotificationScheduler) record(ctx context.Context, res notification.Result, report *TickReport) error {
	// Outcomes of deliveries that already happened are recorded even after cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var stale bool
	err := runInTxWithRetry(ctx, s.tx, s.attempts, s.metrics, s.logger, func(st store.Stores) error {
		stale = false
		if err := st.Notifications.LogDelivery(ctx, notification.NewDeliveryLog(res)); err != nil {
			return err
		}
		if !res.Succeeded() {
			return nil
		}

		d, err := st.Deadlines.GetByIDForUpdate(ctx, res.Intent.DeadlineID)
		if err != nil {
			return err
		}
		if d.Status != deadline.StatusActive || !d.ExpirationDate.Equal(res.Intent.ExpirationDate) {
			stale = true
			return nil
		}
		// Stamped with the planning time so a daily tick sees a full interval the next day.
		notifiedAt := res.Intent.PlannedAt
		if notifiedAt.IsZero() {
			notifiedAt = res.LastAttemptAt
		}
		if err := st.Notifications.UpsertMarker(ctx, &notification.Marker{
			DeadlineID:      d.ID,
			RecipientChatID: res.Intent.Recipient.ChatID,
			Urgency:         res.Intent.Urgency,
			NotifiedAt:      notifiedAt,
		}); err != nil {
			return err
		}
		if d.LastNotifiedUrgency.MoreUrgentThan(res.Intent.Urgency) {
			return nil
		}
		d.LastNotifiedUrgency = res.Intent.Urgency
		d.LastNotifiedAt = sql.NullTime{Time: notifiedAt, Valid: true}
		return st.Deadlines.Update(ctx, d)
	})
	if err == nil && stale {
		report.Stale++
	}
	return err
}

// shouldNotify reports whether a recipient hears about a deadline in the current bucket,
// and whether that message is a reminder. Escalation always notifies. A red or expired
// bucket is repeated once the interval since the last delivery has passed.
func shouldNotify(current deadline.Urgency, marker *notification.Marker, now time.Time, renotify time.Duration) (notify, reminder bool) {
	last := deadline.UrgencyNone
	if marker != nil {
		last = marker.Urgency
	}
	if current.MoreUrgentThan(last) {
		return true, false
	}
	if marker != nil && current == last && current.IsUrgent() && renotify > 0 && now.Sub(marker.NotifiedAt) >= renotify {
		return true, true
	}
	return false, false
}
