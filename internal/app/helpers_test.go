package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/client"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/notification"
	"kkt_deadline_bot/internal/domain/store"
	"kkt_deadline_bot/internal/infra/memstore"
)

// =============================================================================
// Clock
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) AdvanceDays(n int) {
	c.Advance(time.Duration(n) * 24 * time.Hour)
}

// inDays is the calendar date n days from the clock's today.
func (c *testClock) inDays(n int) time.Time {
	return deadline.DateOf(c.Now()).AddDate(0, 0, n)
}

// =============================================================================
// Sender
// =============================================================================

type sentMessage struct {
	Recipient notification.Recipient
	Message   string
	Urgency   deadline.Urgency
}

// recordingSender records deliveries. fail decides per call whether the attempt fails;
// attempt counts calls per chat starting at 1.
type recordingSender struct {
	mu       sync.Mutex
	sent     []sentMessage
	attempts map[int64]int
	fail     func(rcpt notification.Recipient, attempt int) error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{attempts: make(map[int64]int)}
}

func (s *recordingSender) Send(_ context.Context, rcpt notification.Recipient, message string, urgency deadline.Urgency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[rcpt.ChatID]++
	if s.fail != nil {
		if err := s.fail(rcpt, s.attempts[rcpt.ChatID]); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, sentMessage{Recipient: rcpt, Message: message, Urgency: urgency})
	return nil
}

func (s *recordingSender) sentTo(chatID int64) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMessage
	for _, m := range s.sent {
		if m.Recipient.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) attemptsFor(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[chatID]
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.attempts = make(map[int64]int)
}

// =============================================================================
// Transactor
// =============================================================================

// conflictingTx fails the first failures transactions with a conflict.
type conflictingTx struct {
	store.Transactor
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *conflictingTx) RunInTx(ctx context.Context, fn func(s store.Stores) error) error {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.failures
	c.mu.Unlock()
	if fail {
		return c.Transactor.RunInTx(ctx, func(s store.Stores) error {
			if err := fn(s); err != nil {
				return err
			}
			return apperr.Conflict("could not serialize access")
		})
	}
	return c.Transactor.RunInTx(ctx, fn)
}

// =============================================================================
// Seeding
// =============================================================================

func seedClient(st *memstore.Store, name string) *client.Client {
	c := st.PutClient(client.Client{Name: name, TaxID: "7701234567", IsActive: true})
	return &c
}

func seedContact(st *memstore.Store, clientID, telegramID int64, enabled bool) {
	st.PutContact(client.Contact{ClientID: clientID, TelegramID: telegramID, NotificationsEnabled: enabled})
}

func seedType(t testing.TB, st *memstore.Store, name string, protected bool) *deadline.Type {
	t.Helper()
	typ := &deadline.Type{Name: name, IsActive: true, IsProtected: protected}
	require.NoError(t, st.RunInTx(context.Background(), func(s store.Stores) error {
		return s.Deadlines.CreateType(context.Background(), typ)
	}))
	return typ
}

func seedRegister(t testing.TB, st *memstore.Store, clientID int64, serial string) *equipment.CashRegister {
	t.Helper()
	reg := &equipment.CashRegister{ClientID: clientID, SerialNumber: serial, IsActive: true}
	require.NoError(t, st.RunInTx(context.Background(), func(s store.Stores) error {
		return s.Registers.Create(context.Background(), reg)
	}))
	return reg
}

func seedDeadline(t testing.TB, st *memstore.Store, d *deadline.Deadline) *deadline.Deadline {
	t.Helper()
	if d.Status == "" {
		d.Status = deadline.StatusActive
	}
	require.NoError(t, st.RunInTx(context.Background(), func(s store.Stores) error {
		return s.Deadlines.Create(context.Background(), d)
	}))
	return d
}

func loadDeadline(t testing.TB, st *memstore.Store, id int64) *deadline.Deadline {
	t.Helper()
	var d *deadline.Deadline
	require.NoError(t, st.RunInTx(context.Background(), func(s store.Stores) error {
		var err error
		d, err = s.Deadlines.GetByID(context.Background(), id)
		return err
	}))
	return d
}

func listDeadlines(t testing.TB, st *memstore.Store, filter deadline.ListFilter) []*deadline.Deadline {
	t.Helper()
	var list []*deadline.Deadline
	require.NoError(t, st.RunInTx(context.Background(), func(s store.Stores) error {
		var err error
		list, err = s.Deadlines.List(context.Background(), filter)
		return err
	}))
	return list
}

func loadMarkers(t testing.TB, st *memstore.Store, deadlineID int64) map[int64]*notification.Marker {
	t.Helper()
	out := make(map[int64]*notification.Marker)
	require.NoError(t, st.RunInTx(context.Background(), func(s store.Stores) error {
		list, err := s.Notifications.ListMarkers(context.Background(), []int64{deadlineID})
		for _, m := range list {
			out[m.RecipientChatID] = m
		}
		return err
	}))
	return out
}

func putMarker(t testing.TB, st *memstore.Store, m *notification.Marker) {
	t.Helper()
	require.NoError(t, st.RunInTx(context.Background(), func(s store.Stores) error {
		return s.Notifications.UpsertMarker(context.Background(), m)
	}))
}

func validID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}

func validDate(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
