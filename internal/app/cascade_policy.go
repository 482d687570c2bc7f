package app

import (
	"context"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// TypeDeletion describes a completed deadline type removal.
type TypeDeletion struct {
	TypeID            int64
	TypeName          string
	OrphanedDeadlines int64
}

// CascadePolicy decides whether a deadline type may be removed and what happens to
// deadlines that reference it.
type CascadePolicy struct {
	tx             store.Transactor
	allowOrphaning bool
	attempts       int
	metrics        *metrics.Metrics
	logger         *logrus.Entry
}

func NewCascadePolicy(tx store.Transactor, allowOrphaning bool, conflictAttempts int, m *metrics.Metrics, logger *logrus.Entry) *CascadePolicy {
	return &CascadePolicy{
		tx:             tx,
		allowOrphaning: allowOrphaning,
		attempts:       conflictAttempts,
		metrics:        m,
		logger:         logger,
	}
}

// DeleteType removes a deadline type. Referencing deadlines, in any status, survive with
// their type reference cleared. Protected types are refused, and so is a referenced type
// when orphaning is disabled. Nothing changes on refusal.
func (p *CascadePolicy) DeleteType(ctx context.Context, typeID int64) (*TypeDeletion, error) {
	var res *TypeDeletion
	err := runInTxWithRetry(ctx, p.tx, p.attempts, p.metrics, p.logger, func(s store.Stores) error {
		res = nil
		t, err := s.Deadlines.GetTypeForUpdate(ctx, typeID)
		if err != nil {
			return err
		}
		if t.IsProtected {
			return apperr.PolicyViolation("deadline type %q is protected; unprotect it before deleting", t.Name)
		}

		count, err := s.Deadlines.CountByType(ctx, t.ID)
		if err != nil {
			return err
		}
		if count > 0 && !p.allowOrphaning {
			return apperr.PolicyViolation("deadline type %q is used by %d deadline(s); deactivate it instead", t.Name, count)
		}

		orphaned, err := s.Deadlines.OrphanByType(ctx, t.ID)
		if err != nil {
			return err
		}
		if err := s.Deadlines.DeleteType(ctx, t.ID); err != nil {
			return err
		}
		res = &TypeDeletion{TypeID: t.ID, TypeName: t.Name, OrphanedDeadlines: orphaned}
		return nil
	})
	if err != nil {
		p.logger.WithError(err).WithField("type_id", typeID).Warn("Deadline type deletion refused")
		return nil, err
	}

	p.metrics.AddOrphaned(res.OrphanedDeadlines)
	p.logger.WithFields(logrus.Fields{
		"type_id":   res.TypeID,
		"type_name": res.TypeName,
		"orphaned":  res.OrphanedDeadlines,
	}).Info("Deadline type deleted")
	return res, nil
}

// Unprotect clears the protection flag so the type can be deleted.
func (p *CascadePolicy) Unprotect(ctx context.Context, typeID int64) (*deadline.Type, error) {
	return p.updateType(ctx, typeID, func(t *deadline.Type) { t.IsProtected = false })
}

// SetActive activates or deactivates a type. Inactive types keep their deadlines but are
// no longer offered for new ones.
func (p *CascadePolicy) SetActive(ctx context.Context, typeID int64, active bool) (*deadline.Type, error) {
	return p.updateType(ctx, typeID, func(t *deadline.Type) { t.IsActive = active })
}

func (p *CascadePolicy) updateType(ctx context.Context, typeID int64, mutate func(t *deadline.Type)) (*deadline.Type, error) {
	var updated *deadline.Type
	err := runInTxWithRetry(ctx, p.tx, p.attempts, p.metrics, p.logger, func(s store.Stores) error {
		t, err := s.Deadlines.GetTypeForUpdate(ctx, typeID)
		if err != nil {
			return err
		}
		mutate(t)
		if err := s.Deadlines.UpdateType(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"type_id":   updated.ID,
		"active":    updated.IsActive,
		"protected": updated.IsProtected,
	}).Info("Deadline type updated")
	return updated, nil
}
