// Package memstore is an in-memory implementation of the store contract.
//
// A transaction takes a coarse lock and works on a copy of the data set; the copy replaces
// the live data only when the transaction function succeeds. It backs unit tests and the
// STORAGE=memory development mode.
package memstore

import (
	"context"
	"sync"
	"time"

	"kkt_deadline_bot/internal/domain/client"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/notification"
	"kkt_deadline_bot/internal/domain/store"
)

type markerKey struct {
	deadlineID int64
	chatID     int64
}

type state struct {
	nextID     int64
	clients    map[int64]client.Client
	contacts   map[int64]client.Contact
	deadlines  map[int64]deadline.Deadline
	types      map[int64]deadline.Type
	registers  map[int64]equipment.CashRegister
	markers    map[markerKey]notification.Marker
	deliveries []notification.DeliveryLog
	now        func() time.Time
}

func newState(now func() time.Time) *state {
	return &state{
		clients:   make(map[int64]client.Client),
		contacts:  make(map[int64]client.Contact),
		deadlines: make(map[int64]deadline.Deadline),
		types:     make(map[int64]deadline.Type),
		registers: make(map[int64]equipment.CashRegister),
		markers:   make(map[markerKey]notification.Marker),
		now:       now,
	}
}

func (st *state) clone() *state {
	c := newState(st.now)
	c.nextID = st.nextID
	for k, v := range st.clients {
		c.clients[k] = v
	}
	for k, v := range st.contacts {
		c.contacts[k] = v
	}
	for k, v := range st.deadlines {
		c.deadlines[k] = v
	}
	for k, v := range st.types {
		c.types[k] = v
	}
	for k, v := range st.registers {
		c.registers[k] = v
	}
	for k, v := range st.markers {
		c.markers[k] = v
	}
	c.deliveries = append(c.deliveries, st.deliveries...)
	return c
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// Store is a store.Transactor kept in memory.
type Store struct {
	mu   sync.Mutex
	data *state
}

func New() *Store {
	return &Store{data: newState(time.Now)}
}

// RunInTx runs fn against a private copy of the data and publishes the copy on success.
func (s *Store) RunInTx(ctx context.Context, fn func(stores store.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(storesFor(work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func storesFor(st *state) store.Stores {
	return store.Stores{
		Clients:       &clientRepo{st: st},
		Deadlines:     &deadlineRepo{st: st},
		Registers:     &registerRepo{st: st},
		Notifications: &notificationRepo{st: st},
	}
}

// PutClient inserts or replaces a client. Clients are owned by the CRUD collaborator, so
// the repository contract has no write path for them.
func (s *Store) PutClient(c client.Client) client.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.data.id()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.data.now()
		c.UpdatedAt = c.CreatedAt
	}
	s.data.clients[c.ID] = c
	return c
}

// PutContact inserts or replaces a client contact.
func (s *Store) PutContact(c client.Contact) client.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.data.id()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.data.now()
	}
	s.data.contacts[c.ID] = c
	return c
}

// DeliveryLogs returns a copy of the delivery log.
func (s *Store) DeliveryLogs() []notification.DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.DeliveryLog(nil), s.data.deliveries...)
}
