package app

import (
	"context"
	"errors"
	"time"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/clock"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"
	"kkt_deadline_bot/internal/infra/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sender delivers one rendered message to one recipient. Errors wrapping
// apperr.ErrPermanentDelivery are not retried; any other error is.
type Sender interface {
	Send(ctx context.Context, recipient notification.Recipient, message string, urgency deadline.Urgency) error
}

// RetryPolicy bounds delivery attempts with exponential backoff between them.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

const (
	failurePermanent = "permanent"
	failureExhausted = "exhausted"
	failureCancelled = "cancelled"
)

// NotificationDispatcher delivers intents through a Sender with bounded retries and
// a bounded number of concurrent deliveries.
type NotificationDispatcher struct {
	sender         Sender
	policy         RetryPolicy
	attemptTimeout time.Duration
	workers        int
	clock          clock.Clock
	metrics        *metrics.Metrics
	logger         *logrus.Entry
}

func NewNotificationDispatcher(sender Sender, policy RetryPolicy, attemptTimeout time.Duration, workers int, clk clock.Clock, m *metrics.Metrics, logger *logrus.Entry) *NotificationDispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &NotificationDispatcher{
		sender:         sender,
		policy:         policy,
		attemptTimeout: attemptTimeout,
		workers:        workers,
		clock:          clk,
		metrics:        m,
		logger:         logger,
	}
}

// Send delivers one intent. It never returns an error; the outcome is in the result.
func (d *NotificationDispatcher) Send(ctx context.Context, intent notification.Intent) notification.Result {
	res := notification.Result{Intent: intent}
	log := d.logger.WithFields(logrus.Fields{
		"deadline_id": intent.DeadlineID,
		"recipient":   intent.Recipient.String(),
		"urgency":     intent.Urgency.String(),
	})

	var lastErr error
	failureKind := failureExhausted
	operation := func() error {
		res.Attempts++
		res.LastAttemptAt = d.clock.Now()

		attemptCtx := ctx
		if d.attemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
			defer cancel()
		}
		err := d.sender.Send(attemptCtx, intent.Recipient, intent.Message, intent.Urgency)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, apperr.ErrPermanentDelivery) {
			failureKind = failurePermanent
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			failureKind = failureCancelled
			return backoff.Permanent(err)
		}
		log.WithError(err).WithField("attempt", res.Attempts).Warn("Notification attempt failed")
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.policy.MaxAttempts-1)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		if ctx.Err() != nil && failureKind == failureExhausted {
			failureKind = failureCancelled
		}
		res.Outcome = notification.OutcomeFailed
		res.Err = lastErr
		d.metrics.ObserveDelivery(intent.Urgency.String(), false, failureKind, res.Attempts)
		log.WithError(lastErr).WithFields(logrus.Fields{
			"attempts": res.Attempts,
			"failure":  failureKind,
		}).Error("Notification not delivered")
		return res
	}

	res.Outcome = notification.OutcomeSent
	d.metrics.ObserveDelivery(intent.Urgency.String(), true, "", res.Attempts)
	log.WithField("attempts", res.Attempts).Info("Notification delivered")
	return res
}

// DispatchAll delivers every intent and returns results in input order. A failed delivery
// never stops the others.
func (d *NotificationDispatcher) DispatchAll(ctx context.Context, intents []notification.Intent) []notification.Result {
	results := make([]notification.Result, len(intents))
	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, intent := range intents {
		g.Go(func() error {
			results[i] = d.Send(ctx, intent)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *NotificationDispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if d.policy.InitialDelay > 0 {
		b.InitialInterval = d.policy.InitialDelay
	}
	if d.policy.MaxDelay > 0 {
		b.MaxInterval = d.policy.MaxDelay
	}
	b.MaxElapsedTime = 0
	return b
}
