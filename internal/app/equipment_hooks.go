package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/clock"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// HookAction is what a register change did to the deadline of one tracked field.
type HookAction string

const (
	HookCreated   HookAction = "created"
	HookUpdated   HookAction = "updated"
	HookUnchanged HookAction = "unchanged"
	// HookCleared means the register field was cleared; the deadline is left alone.
	HookCleared HookAction = "cleared"
)

type HookResult struct {
	Field          equipment.ComplianceField
	Action         HookAction
	DeadlineID     int64
	ExpirationDate time.Time
}

// EquipmentHookEngine keeps register-derived deadlines in step with the register's
// compliance dates. At most one active deadline exists per register and type.
type EquipmentHookEngine struct {
	tx       store.Transactor
	resolver *TypeResolver
	clock    clock.Clock
	attempts int
	metrics  *metrics.Metrics
	logger   *logrus.Entry
}

func NewEquipmentHookEngine(tx store.Transactor, resolver *TypeResolver, clk clock.Clock, conflictAttempts int, m *metrics.Metrics, logger *logrus.Entry) *EquipmentHookEngine {
	return &EquipmentHookEngine{
		tx:       tx,
		resolver: resolver,
		clock:    clk,
		attempts: conflictAttempts,
		metrics:  m,
		logger:   logger,
	}
}

// OnRegisterUpdate reacts to a change of a register's compliance dates from prev to next.
// Replaying the same transition is harmless.
func (e *EquipmentHookEngine) OnRegisterUpdate(ctx context.Context, registerID int64, prev, next equipment.ComplianceDates) ([]HookResult, error) {
	return e.run(ctx, registerID, func(s store.Stores, reg *equipment.CashRegister) ([]HookResult, error) {
		return e.sync(ctx, s, reg, prev, next)
	})
}

// OnRegisterCreate treats every populated field of a new register as a change from empty.
func (e *EquipmentHookEngine) OnRegisterCreate(ctx context.Context, registerID int64, dates equipment.ComplianceDates) ([]HookResult, error) {
	return e.OnRegisterUpdate(ctx, registerID, equipment.ComplianceDates{}, dates)
}

// ApplyComplianceDates stores new dates on the register and syncs its deadlines in the
// same transaction.
func (e *EquipmentHookEngine) ApplyComplianceDates(ctx context.Context, registerID int64, dates equipment.ComplianceDates) ([]HookResult, error) {
	dates = normalizeDates(dates)
	return e.run(ctx, registerID, func(s store.Stores, reg *equipment.CashRegister) ([]HookResult, error) {
		old := reg.Dates
		if err := s.Registers.UpdateComplianceDates(ctx, reg.ID, dates); err != nil {
			return nil, err
		}
		reg.Dates = dates
		return e.sync(ctx, s, reg, old, dates)
	})
}

// RegisterCashRegister stores a new register and creates deadlines for its populated dates.
func (e *EquipmentHookEngine) RegisterCashRegister(ctx context.Context, reg *equipment.CashRegister) ([]HookResult, error) {
	reg.SerialNumber = strings.TrimSpace(reg.SerialNumber)
	if reg.ClientID <= 0 {
		return nil, apperr.Validation("client id is required")
	}
	if reg.SerialNumber == "" {
		return nil, apperr.Validation("serial number is required")
	}
	reg.Dates = normalizeDates(reg.Dates)
	reg.IsActive = true

	var results []HookResult
	err := runInTxWithRetry(ctx, e.tx, e.attempts, e.metrics, e.logger, func(s store.Stores) error {
		results = nil
		reg.ID = 0
		if _, err := s.Clients.GetByID(ctx, reg.ClientID); err != nil {
			return err
		}
		if err := s.Registers.Create(ctx, reg); err != nil {
			return err
		}
		var err error
		results, err = e.sync(ctx, s, reg, equipment.ComplianceDates{}, reg.Dates)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.report(reg.ID, results)
	return results, nil
}

// ListRegisters returns the cash registers of one client.
func (e *EquipmentHookEngine) ListRegisters(ctx context.Context, clientID int64) ([]*equipment.CashRegister, error) {
	var regs []*equipment.CashRegister
	err := e.tx.RunInTx(ctx, func(s store.Stores) error {
		if _, err := s.Clients.GetByID(ctx, clientID); err != nil {
			return err
		}
		var err error
		regs, err = s.Registers.ListByClient(ctx, clientID)
		return err
	})
	return regs, err
}

func (e *EquipmentHookEngine) run(ctx context.Context, registerID int64, fn func(s store.Stores, reg *equipment.CashRegister) ([]HookResult, error)) ([]HookResult, error) {
	var results []HookResult
	err := runInTxWithRetry(ctx, e.tx, e.attempts, e.metrics, e.logger, func(s store.Stores) error {
		results = nil
		reg, err := s.Registers.GetByIDForUpdate(ctx, registerID)
		if err != nil {
			return err
		}
		results, err = fn(s, reg)
		return err
	})
	if err != nil {
		e.logger.WithError(err).WithField("register_id", registerID).Error("Register deadline sync failed")
		return nil, err
	}
	e.report(registerID, results)
	return results, nil
}

func (e *EquipmentHookEngine) sync(ctx context.Context, s store.Stores, reg *equipment.CashRegister, prev, next equipment.ComplianceDates) ([]HookResult, error) {
	var results []HookResult
	for _, field := range equipment.TrackedFields {
		before, after := prev.Get(field), next.Get(field)
		if sameDate(before, after) {
			continue
		}
		if !after.Valid {
			results = append(results, HookResult{Field: field, Action: HookCleared})
			continue
		}

		t, err := e.resolver.Resolve(ctx, s.Deadlines, field)
		if err != nil {
			return nil, fmt.Errorf("resolve deadline type for %s: %w", field, err)
		}
		res, err := e.upsert(ctx, s, reg, t, field, deadline.DateOf(after.Time))
		if err != nil {
			return nil, fmt.Errorf("sync %s deadline: %w", field, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *EquipmentHookEngine) upsert(ctx context.Context, s store.Stores, reg *equipment.CashRegister, t *deadline.Type, field equipment.ComplianceField, date time.Time) (HookResult, error) {
	res := HookResult{Field: field, ExpirationDate: date}

	existing, err := s.Deadlines.FindActiveForRegister(ctx, reg.ID, t.ID)
	switch {
	case err == nil:
		res.DeadlineID = existing.ID
		if existing.ExpirationDate.Equal(date) {
			res.Action = HookUnchanged
			return res, nil
		}
		previous := existing.ExpirationDate
		existing.ExpirationDate = date
		existing.ResetNotifications()
		existing.AppendNote(fmt.Sprintf("Date changed on register %s: %s -> %s (%s)",
			reg.SerialNumber, previous.Format(time.DateOnly), date.Format(time.DateOnly), e.stamp()))
		if err := s.Deadlines.Update(ctx, existing); err != nil {
			return res, err
		}
		if err := s.Notifications.ClearMarkers(ctx, existing.ID); err != nil {
			return res, err
		}
		res.Action = HookUpdated
		return res, nil

	case errors.Is(err, apperr.ErrNotFound):
		d := &deadline.Deadline{
			ClientID:       reg.ClientID,
			CashRegisterID: sql.NullInt64{Int64: reg.ID, Valid: true},
			DeadlineTypeID: sql.NullInt64{Int64: t.ID, Valid: true},
			ExpirationDate: date,
			Status:         deadline.StatusActive,
			Notes:          fmt.Sprintf("Created from register %s (%s)", reg.SerialNumber, e.stamp()),
		}
		if err := s.Deadlines.Create(ctx, d); err != nil {
			return res, err
		}
		res.DeadlineID = d.ID
		res.Action = HookCreated
		return res, nil

	default:
		return res, err
	}
}

func (e *EquipmentHookEngine) report(registerID int64, results []HookResult) {
	for _, r := range results {
		e.metrics.IncHookAction(string(r.Action))
		e.logger.WithFields(logrus.Fields{
			"register_id": registerID,
			"field":       r.Field,
			"action":      r.Action,
			"deadline_id": r.DeadlineID,
		}).Info("Register deadline synced")
	}
}

func (e *EquipmentHookEngine) stamp() string {
	return e.clock.Now().Format("2006-01-02 15:04")
}

func sameDate(a, b sql.NullTime) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || deadline.DateOf(a.Time).Equal(deadline.DateOf(b.Time))
}

func normalizeDates(d equipment.ComplianceDates) equipment.ComplianceDates {
	if d.FNReplacementDate.Valid {
		d.FNReplacementDate.Time = deadline.DateOf(d.FNReplacementDate.Time)
	}
	if d.OFDRenewalDate.Valid {
		d.OFDRenewalDate.Time = deadline.DateOf(d.OFDRenewalDate.Time)
	}
	return d
}
