// internal/app/deadline_registry.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/client"
	"kkt_deadline_bot/internal/domain/clock"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/notification"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// upcomingWindowDays is how far ahead the summary lists nearest deadlines.
const upcomingWindowDays = deadline.RedMaxDays

// DeadlineView is a deadline enriched for display: names resolved and urgency classified.
type DeadlineView struct {
	Deadline      *deadline.Deadline
	ClientName    string
	ClientTaxID   string
	TypeName      string // empty when the type was deleted
	Urgency       deadline.Urgency
	DaysRemaining int
}

// CreateDeadlineInput carries a manually created deadline. Zero ids mean "not set".
type CreateDeadlineInput struct {
	ClientID       int64
	CashRegisterID int64
	DeadlineTypeID int64
	ExpirationDate time.Time
	Notes          string
}

// Summary is the per-bucket overview of active deadlines.
type Summary struct {
	Date     time.Time
	Tally    deadline.Tally
	Upcoming []DeadlineView // nearest non-expired deadlines within the red window
	Failed   []*notification.DeliveryLog
}

// DeadlineRegistry owns CRUD and query operations over deadlines and deadline types.
type DeadlineRegistry struct {
	tx       store.Transactor
	clock    clock.Clock
	attempts int
	metrics  *metrics.Metrics
	logger   *logrus.Entry
}

func NewDeadlineRegistry(tx store.Transactor, clk clock.Clock, conflictAttempts int, m *metrics.Metrics, logger *logrus.Entry) *DeadlineRegistry {
	return &DeadlineRegistry{
		tx:       tx,
		clock:    clk,
		attempts: conflictAttempts,
		metrics:  m,
		logger:   logger,
	}
}

// Create validates and stores a new active deadline.
func (r *DeadlineRegistry) Create(ctx context.Context, in CreateDeadlineInput) (*deadline.Deadline, error) {
	if in.ClientID <= 0 {
		return nil, apperr.Validation("client id is required")
	}
	if in.ExpirationDate.IsZero() {
		return nil, apperr.Validation("expiration date is required")
	}

	var created *deadline.Deadline
	err := runInTxWithRetry(ctx, r.tx, r.attempts, r.metrics, r.logger, func(s store.Stores) error {
		if _, err := s.Clients.GetByID(ctx, in.ClientID); err != nil {
			return err
		}
		d := &deadline.Deadline{
			ClientID:       in.ClientID,
			ExpirationDate: deadline.DateOf(in.ExpirationDate),
			Status:         deadline.StatusActive,
			Notes:          strings.TrimSpace(in.Notes),
		}
		if in.CashRegisterID > 0 {
			reg, err := s.Registers.GetByID(ctx, in.CashRegisterID)
			if err != nil {
				return err
			}
			if reg.ClientID != in.ClientID {
				return apperr.Validation("cash register %d does not belong to client %d", reg.ID, in.ClientID)
			}
			d.CashRegisterID = sql.NullInt64{Int64: reg.ID, Valid: true}
		}
		if in.DeadlineTypeID > 0 {
			t, err := s.Deadlines.GetType(ctx, in.DeadlineTypeID)
			if err != nil {
				return err
			}
			if !t.IsActive {
				return apperr.Validation("deadline type %q is inactive", t.Name)
			}
			d.DeadlineTypeID = sql.NullInt64{Int64: t.ID, Valid: true}
		}
		if err := s.Deadlines.Create(ctx, d); err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"deadline_id":     created.ID,
		"client_id":       created.ClientID,
		"expiration_date": created.ExpirationDate.Format(time.DateOnly),
	}).Info("Deadline created")
	return created, nil
}

// Get returns one deadline with display details.
func (r *DeadlineRegistry) Get(ctx context.Context, id int64) (*DeadlineView, error) {
	var view *DeadlineView
	err := r.tx.RunInTx(ctx, func(s store.Stores) error {
		d, err := s.Deadlines.GetByID(ctx, id)
		if err != nil {
			return err
		}
		views, err := r.enrich(ctx, s, []*deadline.Deadline{d})
		if err != nil {
			return err
		}
		view = &views[0]
		return nil
	})
	return view, err
}

// ListByClient returns a client's deadlines ordered by expiration date.
func (r *DeadlineRegistry) ListByClient(ctx context.Context, clientID int64, activeOnly bool) ([]DeadlineView, error) {
	filter := deadline.ListFilter{ClientID: clientID}
	if activeOnly {
		filter.Status = deadline.StatusActive
	}
	var views []DeadlineView
	err := r.tx.RunInTx(ctx, func(s store.Stores) error {
		if _, err := s.Clients.GetByID(ctx, clientID); err != nil {
			return err
		}
		list, err := s.Deadlines.List(ctx, filter)
		if err != nil {
			return err
		}
		views, err = r.enrich(ctx, s, list)
		return err
	})
	return views, err
}

// ListExpiring returns active deadlines of active clients that expire within withinDays
// days from today, overdue ones included.
func (r *DeadlineRegistry) ListExpiring(ctx context.Context, withinDays int) ([]DeadlineView, error) {
	if withinDays < 0 {
		return nil, apperr.Validation("within_days must not be negative")
	}
	filter := deadline.ListFilter{
		Status:         deadline.StatusActive,
		ExpiringBefore: clock.Today(r.clock).AddDate(0, 0, withinDays+1),
	}
	var views []DeadlineView
	err := r.tx.RunInTx(ctx, func(s store.Stores) error {
		list, err := s.Deadlines.List(ctx, filter)
		if err != nil {
			return err
		}
		views, err = r.enrich(ctx, s, list)
		return err
	})
	return views, err
}

// Cancel soft-cancels an active deadline and resets its notification state.
func (r *DeadlineRegistry) Cancel(ctx context.Context, id int64, reason string) (*deadline.Deadline, error) {
	var cancelled *deadline.Deadline
	err := runInTxWithRetry(ctx, r.tx, r.attempts, r.metrics, r.logger, func(s store.Stores) error {
		d, err := s.Deadlines.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(deadline.StatusCancelled) {
			return apperr.PolicyViolation("deadline %d is %s; only active deadlines can be cancelled", d.ID, d.Status)
		}
		d.Status = deadline.StatusCancelled
		d.ResetNotifications()
		line := fmt.Sprintf("Cancelled (%s)", r.stamp())
		if reason = strings.TrimSpace(reason); reason != "" {
			line = fmt.Sprintf("Cancelled: %s (%s)", reason, r.stamp())
		}
		d.AppendNote(line)
		if err := s.Deadlines.Update(ctx, d); err != nil {
			return err
		}
		if err := s.Notifications.ClearMarkers(ctx, d.ID); err != nil {
			return err
		}
		cancelled = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithField("deadline_id", id).Info("Deadline cancelled")
	return cancelled, nil
}

// Renew closes an active deadline as renewed and opens its successor with the new date.
// The old record keeps its expiration date.
func (r *DeadlineRegistry) Renew(ctx context.Context, id int64, newExpiration time.Time) (*deadline.Deadline, error) {
	if newExpiration.IsZero() {
		return nil, apperr.Validation("new expiration date is required")
	}
	newDate := deadline.DateOf(newExpiration)

	var successor *deadline.Deadline
	err := runInTxWithRetry(ctx, r.tx, r.attempts, r.metrics, r.logger, func(s store.Stores) error {
		old, err := s.Deadlines.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !old.Status.CanTransition(deadline.StatusRenewed) {
			return apperr.PolicyViolation("deadline %d is %s; only active deadlines can be renewed", old.ID, old.Status)
		}
		if !newDate.After(old.ExpirationDate) {
			return apperr.Validation("new expiration date %s must be after %s",
				newDate.Format(time.DateOnly), old.ExpirationDate.Format(time.DateOnly))
		}

		old.Status = deadline.StatusRenewed
		old.ResetNotifications()
		old.AppendNote(fmt.Sprintf("Renewed until %s (%s)", newDate.Format(time.DateOnly), r.stamp()))
		if err := s.Deadlines.Update(ctx, old); err != nil {
			return err
		}
		if err := s.Notifications.ClearMarkers(ctx, old.ID); err != nil {
			return err
		}

		next := &deadline.Deadline{
			ClientID:       old.ClientID,
			CashRegisterID: old.CashRegisterID,
			DeadlineTypeID: old.DeadlineTypeID,
			ExpirationDate: newDate,
			Status:         deadline.StatusActive,
			RenewedFromID:  sql.NullInt64{Int64: old.ID, Valid: true},
			Notes:          fmt.Sprintf("Renewal of deadline %d (%s)", old.ID, r.stamp()),
		}
		if err := s.Deadlines.Create(ctx, next); err != nil {
			return err
		}
		successor = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{
		"deadline_id":     id,
		"successor_id":    successor.ID,
		"expiration_date": newDate.Format(time.DateOnly),
	}).Info("Deadline renewed")
	return successor, nil
}

// CreateType adds a deadline category.
func (r *DeadlineRegistry) CreateType(ctx context.Context, name, description string, protected bool) (*deadline.Type, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("deadline type name is required")
	}
	t := &deadline.Type{
		Name:        name,
		IsActive:    true,
		IsProtected: protected,
	}
	if description = strings.TrimSpace(description); description != "" {
		t.Description = sql.NullString{String: description, Valid: true}
	}
	err := r.tx.RunInTx(ctx, func(s store.Stores) error {
		return s.Deadlines.CreateType(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{"type_id": t.ID, "name": t.Name}).Info("Deadline type created")
	return t, nil
}

func (r *DeadlineRegistry) ListTypes(ctx context.Context, activeOnly bool) ([]*deadline.Type, error) {
	var types []*deadline.Type
	err := r.tx.RunInTx(ctx, func(s store.Stores) error {
		var err error
		types, err = s.Deadlines.ListTypes(ctx, activeOnly)
		return err
	})
	return types, err
}

// Summary tallies active deadlines of active clients by urgency bucket.
func (r *DeadlineRegistry) Summary(ctx context.Context, upcomingLimit int) (*Summary, error) {
	today := clock.Today(r.clock)
	sum := &Summary{Date: today, Tally: deadline.Tally{}}
	err := r.tx.RunInTx(ctx, func(s store.Stores) error {
		sum.Tally = deadline.Tally{}
		sum.Upcoming = nil
		list, err := s.Deadlines.List(ctx, deadline.ListFilter{Status: deadline.StatusActive})
		if err != nil {
			return err
		}
		views, err := r.enrich(ctx, s, list)
		if err != nil {
			return err
		}
		for _, v := range views {
			sum.Tally[v.Urgency]++
			if v.DaysRemaining >= 0 && v.DaysRemaining <= upcomingWindowDays && len(sum.Upcoming) < upcomingLimit {
				sum.Upcoming = append(sum.Upcoming, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// enrich resolves names and classifies. Deadlines of inactive clients are dropped.
func (r *DeadlineRegistry) enrich(ctx context.Context, s store.Stores, list []*deadline.Deadline) ([]DeadlineView, error) {
	return enrichDeadlines(ctx, s, list, clock.Today(r.clock), r.logger)
}

func enrichDeadlines(ctx context.Context, s store.Stores, list []*deadline.Deadline, today time.Time, logger *logrus.Entry) ([]DeadlineView, error) {
	types, err := s.Deadlines.ListTypes(ctx, false)
	if err != nil {
		return nil, err
	}
	typeNames := make(map[int64]string, len(types))
	for _, t := range types {
		typeNames[t.ID] = t.Name
	}

	clients := make(map[int64]*client.Client)
	views := make([]DeadlineView, 0, len(list))
	for _, d := range list {
		cl, ok := clients[d.ClientID]
		if !ok {
			cl, err = s.Clients.GetByID(ctx, d.ClientID)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					logger.WithField("deadline_id", d.ID).Warn("Deadline references a missing client, skipping")
					clients[d.ClientID] = nil
					continue
				}
				return nil, err
			}
			clients[d.ClientID] = cl
		}
		if cl == nil || !cl.IsActive {
			continue
		}
		view := DeadlineView{
			Deadline:      d,
			ClientName:    cl.Name,
			ClientTaxID:   cl.TaxID,
			Urgency:       d.Urgency(today),
			DaysRemaining: d.DaysRemaining(today),
		}
		if d.DeadlineTypeID.Valid {
			view.TypeName = typeNames[d.DeadlineTypeID.Int64]
		}
		views = append(views, view)
	}
	return views, nil
}

func (r *DeadlineRegistry) stamp() string {
	return r.clock.Now().Format("2006-01-02 15:04")
}
