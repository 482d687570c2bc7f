package app

import (
	"context"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// runInTxWithRetry replays fn in a fresh transaction while it fails with apperr.ErrConflict,
// at most attempts times. fn must reset any state it captures because it may run again.
func runInTxWithRetry(ctx context.Context, tx store.Transactor, attempts int, m *metrics.Metrics, log *logrus.Entry, fn func(s store.Stores) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = tx.RunInTx(ctx, fn)
		if err == nil || !apperr.IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt < attempts {
			m.IncConflictRetry()
			log.WithError(err).WithField("attempt", attempt).Warn("Transaction conflict, retrying")
		}
	}
	return err
}
