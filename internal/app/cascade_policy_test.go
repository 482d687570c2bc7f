package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/client"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/infra/logger"
	"kkt_deadline_bot/internal/infra/memstore"
)

type CascadePolicySuite struct {
	suite.Suite
	store  *memstore.Store
	clock  *testClock
	client *client.Client
}

func TestCascadePolicySuite(t *testing.T) {
	suite.Run(t, new(CascadePolicySuite))
}

func (s *CascadePolicySuite) SetupTest() {
	s.store = memstore.New()
	s.clock = newTestClock()
	s.client = seedClient(s.store, "ООО Ромашка")
}

func (s *CascadePolicySuite) policy(allowOrphaning bool) *CascadePolicy {
	return NewCascadePolicy(s.store, allowOrphaning, 3, nil, logger.Discard())
}

func (s *CascadePolicySuite) TestProtectedTypeIsRefused() {
	ctx := context.Background()
	t := seedType(s.T(), s.store, "Замена ФН", true)
	d := seedDeadline(s.T(), s.store, &deadline.Deadline{ClientID: s.client.ID, DeadlineTypeID: validID(t.ID), ExpirationDate: s.clock.inDays(10)})

	_, err := s.policy(true).DeleteType(ctx, t.ID)
	s.ErrorIs(err, apperr.ErrPolicyViolation)
	s.Equal(validID(t.ID), loadDeadline(s.T(), s.store, d.ID).DeadlineTypeID, "refusal changes nothing")

	_, err = s.policy(true).Unprotect(ctx, t.ID)
	s.Require().NoError(err)
	res, err := s.policy(true).DeleteType(ctx, t.ID)
	s.Require().NoError(err)
	s.EqualValues(1, res.OrphanedDeadlines)
}

func (s *CascadePolicySuite) TestDeleteOrphansDeadlinesInEveryStatus() {
	ctx := context.Background()
	registry := NewDeadlineRegistry(s.store, s.clock, 3, nil, logger.Discard())
	t := seedType(s.T(), s.store, "Продление ОФД", false)
	active := seedDeadline(s.T(), s.store, &deadline.Deadline{ClientID: s.client.ID, DeadlineTypeID: validID(t.ID), ExpirationDate: s.clock.inDays(10)})
	toCancel := seedDeadline(s.T(), s.store, &deadline.Deadline{ClientID: s.client.ID, DeadlineTypeID: validID(t.ID), ExpirationDate: s.clock.inDays(20)})
	_, err := registry.Cancel(ctx, toCancel.ID, "")
	s.Require().NoError(err)
	toRenew := seedDeadline(s.T(), s.store, &deadline.Deadline{ClientID: s.client.ID, DeadlineTypeID: validID(t.ID), ExpirationDate: s.clock.inDays(1)})
	successor, err := registry.Renew(ctx, toRenew.ID, s.clock.inDays(365))
	s.Require().NoError(err)

	res, err := s.policy(true).DeleteType(ctx, t.ID)
	s.Require().NoError(err)
	s.Equal("Продление ОФД", res.TypeName)
	s.EqualValues(4, res.OrphanedDeadlines)

	for _, id := range []int64{active.ID, toCancel.ID, toRenew.ID, successor.ID} {
		d := loadDeadline(s.T(), s.store, id)
		s.False(d.DeadlineTypeID.Valid, "deadline %d keeps no type reference", id)
	}
	s.Equal(deadline.StatusActive, loadDeadline(s.T(), s.store, active.ID).Status)
	s.Equal(deadline.StatusCancelled, loadDeadline(s.T(), s.store, toCancel.ID).Status)
	s.Equal(deadline.StatusRenewed, loadDeadline(s.T(), s.store, toRenew.ID).Status)
	s.Len(listDeadlines(s.T(), s.store, deadline.ListFilter{ClientID: s.client.ID}), 4)

	_, err = s.policy(true).DeleteType(ctx, t.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *CascadePolicySuite) TestOrphaningDisabled() {
	ctx := context.Background()

	s.Run("referenced type is refused", func() {
		t := seedType(s.T(), s.store, "Техобслуживание", false)
		d := seedDeadline(s.T(), s.store, &deadline.Deadline{ClientID: s.client.ID, DeadlineTypeID: validID(t.ID), ExpirationDate: s.clock.inDays(10)})

		_, err := s.policy(false).DeleteType(ctx, t.ID)
		s.ErrorIs(err, apperr.ErrPolicyViolation)
		s.Contains(err.Error(), "deactivate")
		s.Equal(validID(t.ID), loadDeadline(s.T(), s.store, d.ID).DeadlineTypeID)
	})

	s.Run("unreferenced type is deleted", func() {
		t := seedType(s.T(), s.store, "Пустой тип", false)
		res, err := s.policy(false).DeleteType(ctx, t.ID)
		s.Require().NoError(err)
		s.Zero(res.OrphanedDeadlines)
	})
}

func (s *CascadePolicySuite) TestUnknownType() {
	_, err := s.policy(true).DeleteType(context.Background(), 777)
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *CascadePolicySuite) TestSetActive() {
	ctx := context.Background()
	t := seedType(s.T(), s.store, "Регистрация ККТ", false)

	updated, err := s.policy(true).SetActive(ctx, t.ID, false)
	s.Require().NoError(err)
	s.False(updated.IsActive)

	active, err := NewDeadlineRegistry(s.store, s.clock, 1, nil, logger.Discard()).ListTypes(ctx, true)
	s.Require().NoError(err)
	s.Empty(active)
}
