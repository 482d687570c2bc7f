//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"kkt_deadline_bot/internal/app"
	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/clock"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/notification"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/database"
	"kkt_deadline_bot/internal/infra/database/migrations"
	"kkt_deadline_bot/internal/infra/logger"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	tx        *database.Transactor
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("kkt"),
		tcpostgres.WithUsername("kkt"),
		tcpostgres.WithPassword("kkt"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.db, err = database.NewPostgresConnection(ctx, dsn, database.PoolOptions{MaxOpenConns: 5})
	s.Require().NoError(err)
	s.Require().NoError(migrations.MigrateUp(s.db))
	s.tx = database.NewTransactor(s.db)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		s.NoError(testcontainers.TerminateContainer(s.container))
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	// Truncate in dependency order; seeded protected types stay.
	_, err := s.db.Exec(`TRUNCATE notification_deliveries, notification_markers, deadlines, cash_registers,
                         client_contacts, clients RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
	_, err = s.db.Exec(`DELETE FROM deadline_types WHERE NOT is_protected`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) insertClient(name string) int64 {
	var id int64
	err := s.db.QueryRow(`INSERT INTO clients (name, tax_id) VALUES ($1, '7701234567') RETURNING id`, name).Scan(&id)
	s.Require().NoError(err)
	return id
}

func (s *PostgresStoreSuite) insertRegister(clientID int64, serial string) int64 {
	var id int64
	err := s.db.QueryRow(`INSERT INTO cash_registers (client_id, serial_number) VALUES ($1, $2) RETURNING id`, clientID, serial).Scan(&id)
	s.Require().NoError(err)
	return id
}

func (s *PostgresStoreSuite) typeByName(name string) *deadline.Type {
	var found *deadline.Type
	s.Require().NoError(s.tx.RunInTx(context.Background(), func(st store.Stores) error {
		types, err := st.Deadlines.ListTypes(context.Background(), false)
		for _, t := range types {
			if t.Name == name {
				found = t
			}
		}
		return err
	}))
	s.Require().NotNil(found, "type %q", name)
	return found
}

func (s *PostgresStoreSuite) hookEngine() *app.EquipmentHookEngine {
	resolver := app.NewTypeResolver(map[equipment.ComplianceField][]string{
		equipment.FieldFNReplacement: {"Замена ФН"},
		equipment.FieldOFDRenewal:    {"Продление ОФД"},
	})
	return app.NewEquipmentHookEngine(s.tx, resolver, clock.NewSystem(time.UTC), 5, nil, logger.Discard())
}

func (s *PostgresStoreSuite) TestSchemaIsCurrent() {
	s.NoError(migrations.CheckStatus(s.db))
	s.True(s.typeByName("Замена ФН").IsProtected)
	s.True(s.typeByName("Продление ОФД").IsProtected)
}

func (s *PostgresStoreSuite) TestDeadlineRoundTrip() {
	ctx := context.Background()
	clientID := s.insertClient("ООО Ромашка")
	exp := time.Date(2026, time.May, 20, 15, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	d := &deadline.Deadline{ClientID: clientID, ExpirationDate: exp, Status: deadline.StatusActive, Notes: "n"}
	s.Require().NoError(s.tx.RunInTx(ctx, func(st store.Stores) error {
		return st.Deadlines.Create(ctx, d)
	}))

	var got *deadline.Deadline
	s.Require().NoError(s.tx.RunInTx(ctx, func(st store.Stores) error {
		var err error
		got, err = st.Deadlines.GetByID(ctx, d.ID)
		return err
	}))
	s.Equal(time.Date(2026, time.May, 20, 0, 0, 0, 0, time.UTC), got.ExpirationDate)
	s.Equal(deadline.UrgencyNone, got.LastNotifiedUrgency)
	s.False(got.DeadlineTypeID.Valid)

	err := s.tx.RunInTx(ctx, func(st store.Stores) error {
		_, err := st.Deadlines.GetByID(ctx, 999999)
		return err
	})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *PostgresStoreSuite) TestActiveRegisterTypeUniqueness() {
	ctx := context.Background()
	clientID := s.insertClient("ООО Ромашка")
	registerID := s.insertRegister(clientID, "SN-1")
	fn := s.typeByName("Замена ФН")

	create := func() error {
		return s.tx.RunInTx(ctx, func(st store.Stores) error {
			return st.Deadlines.Create(ctx, &deadline.Deadline{
				ClientID:       clientID,
				CashRegisterID: sql.NullInt64{Int64: registerID, Valid: true},
				DeadlineTypeID: sql.NullInt64{Int64: fn.ID, Valid: true},
				ExpirationDate: time.Now().AddDate(0, 6, 0),
				Status:         deadline.StatusActive,
			})
		})
	}
	s.Require().NoError(create())
	s.ErrorIs(create(), apperr.ErrConflict)
}

func (s *PostgresStoreSuite) TestDuplicateSerialAndTypeNameAreValidationErrors() {
	ctx := context.Background()
	clientID := s.insertClient("ООО Ромашка")
	s.insertRegister(clientID, "SN-DUP")

	err := s.tx.RunInTx(ctx, func(st store.Stores) error {
		return st.Registers.Create(ctx, &equipment.CashRegister{ClientID: clientID, SerialNumber: "SN-DUP", IsActive: true})
	})
	s.ErrorIs(err, apperr.ErrValidation)

	err = s.tx.RunInTx(ctx, func(st store.Stores) error {
		return st.Deadlines.CreateType(ctx, &deadline.Type{Name: "замена фн", IsActive: true})
	})
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *PostgresStoreSuite) TestDeleteTypeOrphansDeadlines() {
	ctx := context.Background()
	clientID := s.insertClient("ООО Ромашка")
	custom := &deadline.Type{Name: "Техобслуживание", IsActive: true}
	var ids []int64
	s.Require().NoError(s.tx.RunInTx(ctx, func(st store.Stores) error {
		if err := st.Deadlines.CreateType(ctx, custom); err != nil {
			return err
		}
		for _, status := range []deadline.Status{deadline.StatusActive, deadline.StatusCancelled} {
			d := &deadline.Deadline{
				ClientID:       clientID,
				DeadlineTypeID: sql.NullInt64{Int64: custom.ID, Valid: true},
				ExpirationDate: time.Now().AddDate(0, 1, 0),
				Status:         status,
			}
			if err := st.Deadlines.Create(ctx, d); err != nil {
				return err
			}
			ids = append(ids, d.ID)
		}
		return nil
	}))

	policy := app.NewCascadePolicy(s.tx, true, 3, nil, logger.Discard())
	res, err := policy.DeleteType(ctx, custom.ID)
	s.Require().NoError(err)
	s.EqualValues(2, res.OrphanedDeadlines)

	var remaining int
	s.Require().NoError(s.db.QueryRow(`SELECT COUNT(*) FROM deadlines WHERE id = ANY($1) AND deadline_type_id IS NULL`,
		pq.Array(ids)).Scan(&remaining))
	s.Equal(2, remaining)

	_, err = policy.DeleteType(ctx, s.typeByName("Замена ФН").ID)
	s.ErrorIs(err, apperr.ErrPolicyViolation)
}

func (s *PostgresStoreSuite) TestMarkersNeverDowngrade() {
	ctx := context.Background()
	clientID := s.insertClient("ООО Ромашка")
	d := &deadline.Deadline{ClientID: clientID, ExpirationDate: time.Now(), Status: deadline.StatusActive}
	now := time.Now().UTC().Truncate(time.Second)

	s.Require().NoError(s.tx.RunInTx(ctx, func(st store.Stores) error {
		if err := st.Deadlines.Create(ctx, d); err != nil {
			return err
		}
		if err := st.Notifications.UpsertMarker(ctx, &notification.Marker{DeadlineID: d.ID, RecipientChatID: 1, Urgency: deadline.UrgencyRed, NotifiedAt: now}); err != nil {
			return err
		}
		return st.Notifications.UpsertMarker(ctx, &notification.Marker{DeadlineID: d.ID, RecipientChatID: 1, Urgency: deadline.UrgencyYellow, NotifiedAt: now.Add(time.Hour)})
	}))

	var markers []*notification.Marker
	s.Require().NoError(s.tx.RunInTx(ctx, func(st store.Stores) error {
		var err error
		markers, err = st.Notifications.ListMarkers(ctx, []int64{d.ID})
		return err
	}))
	s.Require().Len(markers, 1)
	s.Equal(deadline.UrgencyRed, markers[0].Urgency)
	s.True(now.Equal(markers[0].NotifiedAt))
}

func (s *PostgresStoreSuite) TestDeliveryLog() {
	ctx := context.Background()
	clientID := s.insertClient("ООО Ромашка")
	d := &deadline.Deadline{ClientID: clientID, ExpirationDate: time.Now(), Status: deadline.StatusActive}

	s.Require().NoError(s.tx.RunInTx(ctx, func(st store.Stores) error {
		if err := st.Deadlines.Create(ctx, d); err != nil {
			return err
		}
		return st.Notifications.LogDelivery(ctx, &notification.DeliveryLog{
			DeadlineID:      d.ID,
			RecipientChatID: 42,
			Urgency:         deadline.UrgencyRed,
			Attempts:        3,
			Outcome:         notification.OutcomeFailed,
			Error:           sql.NullString{String: "chat not found", Valid: true},
		})
	}))

	var failed []*notification.DeliveryLog
	s.Require().NoError(s.tx.RunInTx(ctx, func(st store.Stores) error {
		var err error
		failed, err = st.Notifications.ListFailedDeliveries(ctx, time.Now().Add(-time.Hour), 10)
		return err
	}))
	s.Require().Len(failed, 1)
	s.Equal(int64(42), failed[0].RecipientChatID)
	s.Equal(3, failed[0].Attempts)
}

// TestConcurrentHooksKeepOneActiveDeadline replays the same register change from many
// goroutines; the register row lock and conflict retry leave exactly one deadline.
func (s *PostgresStoreSuite) TestConcurrentHooksKeepOneActiveDeadline() {
	ctx := context.Background()
	clientID := s.insertClient("ООО Ромашка")
	registerID := s.insertRegister(clientID, "SN-RACE")
	engine := s.hookEngine()
	dates := equipment.ComplianceDates{OFDRenewalDate: sql.NullTime{Time: time.Now().AddDate(1, 0, 0), Valid: true}}

	const goroutines = 10
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.OnRegisterCreate(ctx, registerID, dates)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	var active int
	s.Require().NoError(s.db.QueryRow(
		`SELECT COUNT(*) FROM deadlines WHERE cash_register_id = $1 AND status = 'active'`, registerID).Scan(&active))
	s.Equal(1, active)
}
