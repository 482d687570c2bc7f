package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/client"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/notification"
)

// --- clients ---

type clientRepo struct{ st *state }

func (r *clientRepo) GetByID(_ context.Context, id int64) (*client.Client, error) {
	c, ok := r.st.clients[id]
	if !ok {
		return nil, apperr.NotFound("client %d", id)
	}
	return &c, nil
}

func (r *clientRepo) ListActive(_ context.Context) ([]*client.Client, error) {
	out := make([]*client.Client, 0)
	for _, c := range r.st.clients {
		if c.IsActive {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *clientRepo) ListNotifiableContacts(_ context.Context, clientID int64) ([]*client.Contact, error) {
	out := make([]*client.Contact, 0)
	for _, c := range r.st.contacts {
		if c.ClientID == clientID && c.NotificationsEnabled {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- deadlines and types ---

type deadlineRepo struct{ st *state }

func (r *deadlineRepo) checkActiveUnique(d *deadline.Deadline) error {
	if d.Status != deadline.StatusActive || !d.CashRegisterID.Valid || !d.DeadlineTypeID.Valid {
		return nil
	}
	for id, other := range r.st.deadlines {
		if id == d.ID || other.Status != deadline.StatusActive {
			continue
		}
		if other.CashRegisterID == d.CashRegisterID && other.DeadlineTypeID == d.DeadlineTypeID {
			return apperr.Conflict("active deadline for register %d and type %d already exists",
				d.CashRegisterID.Int64, d.DeadlineTypeID.Int64)
		}
	}
	return nil
}

func (r *deadlineRepo) checkRefs(d *deadline.Deadline) error {
	if _, ok := r.st.clients[d.ClientID]; !ok {
		return apperr.NotFound("client %d", d.ClientID)
	}
	if d.DeadlineTypeID.Valid {
		if _, ok := r.st.types[d.DeadlineTypeID.Int64]; !ok {
			return apperr.NotFound("deadline type %d", d.DeadlineTypeID.Int64)
		}
	}
	if d.CashRegisterID.Valid {
		if _, ok := r.st.registers[d.CashRegisterID.Int64]; !ok {
			return apperr.NotFound("cash register %d", d.CashRegisterID.Int64)
		}
	}
	return nil
}

func (r *deadlineRepo) Create(_ context.Context, d *deadline.Deadline) error {
	if err := r.checkRefs(d); err != nil {
		return err
	}
	if err := r.checkActiveUnique(d); err != nil {
		return err
	}
	d.ID = r.st.id()
	d.ExpirationDate = deadline.DateOf(d.ExpirationDate)
	d.CreatedAt = r.st.now()
	d.UpdatedAt = d.CreatedAt
	r.st.deadlines[d.ID] = *d
	return nil
}

func (r *deadlineRepo) Update(_ context.Context, d *deadline.Deadline) error {
	if _, ok := r.st.deadlines[d.ID]; !ok {
		return apperr.NotFound("deadline %d", d.ID)
	}
	if err := r.checkRefs(d); err != nil {
		return err
	}
	if err := r.checkActiveUnique(d); err != nil {
		return err
	}
	d.ExpirationDate = deadline.DateOf(d.ExpirationDate)
	d.UpdatedAt = r.st.now()
	r.st.deadlines[d.ID] = *d
	return nil
}

func (r *deadlineRepo) GetByID(_ context.Context, id int64) (*deadline.Deadline, error) {
	d, ok := r.st.deadlines[id]
	if !ok {
		return nil, apperr.NotFound("deadline %d", id)
	}
	return &d, nil
}

func (r *deadlineRepo) GetByIDForUpdate(ctx context.Context, id int64) (*deadline.Deadline, error) {
	return r.GetByID(ctx, id)
}

func (r *deadlineRepo) FindActiveForRegister(_ context.Context, registerID, typeID int64) (*deadline.Deadline, error) {
	for _, d := range r.st.deadlines {
		if d.Status == deadline.StatusActive &&
			d.CashRegisterID.Valid && d.CashRegisterID.Int64 == registerID &&
			d.DeadlineTypeID.Valid && d.DeadlineTypeID.Int64 == typeID {
			return &d, nil
		}
	}
	return nil, apperr.NotFound("active deadline for register %d and type %d", registerID, typeID)
}

func (r *deadlineRepo) List(_ context.Context, f deadline.ListFilter) ([]*deadline.Deadline, error) {
	out := make([]*deadline.Deadline, 0)
	for _, d := range r.st.deadlines {
		if f.ClientID != 0 && d.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if !f.ExpiringBefore.IsZero() && !d.ExpirationDate.Before(f.ExpiringBefore) {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpirationDate.Equal(out[j].ExpirationDate) {
			return out[i].ExpirationDate.Before(out[j].ExpirationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *deadlineRepo) CountByType(_ context.Context, typeID int64) (int, error) {
	n := 0
	for _, d := range r.st.deadlines {
		if d.DeadlineTypeID.Valid && d.DeadlineTypeID.Int64 == typeID {
			n++
		}
	}
	return n, nil
}

func (r *deadlineRepo) OrphanByType(_ context.Context, typeID int64) (int64, error) {
	var n int64
	for id, d := range r.st.deadlines {
		if d.DeadlineTypeID.Valid && d.DeadlineTypeID.Int64 == typeID {
			d.DeadlineTypeID.Valid = false
			d.DeadlineTypeID.Int64 = 0
			d.UpdatedAt = r.st.now()
			r.st.deadlines[id] = d
			n++
		}
	}
	return n, nil
}

func (r *deadlineRepo) typeNameTaken(name string, exceptID int64) bool {
	for id, t := range r.st.types {
		if id != exceptID && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (r *deadlineRepo) CreateType(_ context.Context, t *deadline.Type) error {
	if r.typeNameTaken(t.Name, 0) {
		return apperr.Validation("deadline type %q already exists", t.Name)
	}
	t.ID = r.st.id()
	t.CreatedAt = r.st.now()
	t.UpdatedAt = t.CreatedAt
	r.st.types[t.ID] = *t
	return nil
}

func (r *deadlineRepo) UpdateType(_ context.Context, t *deadline.Type) error {
	if _, ok := r.st.types[t.ID]; !ok {
		return apperr.NotFound("deadline type %d", t.ID)
	}
	if r.typeNameTaken(t.Name, t.ID) {
		return apperr.Validation("deadline type %q already exists", t.Name)
	}
	t.UpdatedAt = r.st.now()
	r.st.types[t.ID] = *t
	return nil
}

func (r *deadlineRepo) GetType(_ context.Context, id int64) (*deadline.Type, error) {
	t, ok := r.st.types[id]
	if !ok {
		return nil, apperr.NotFound("deadline type %d", id)
	}
	return &t, nil
}

func (r *deadlineRepo) GetTypeForUpdate(ctx context.Context, id int64) (*deadline.Type, error) {
	return r.GetType(ctx, id)
}

func (r *deadlineRepo) ListTypes(_ context.Context, activeOnly bool) ([]*deadline.Type, error) {
	out := make([]*deadline.Type, 0)
	for _, t := range r.st.types {
		if activeOnly && !t.IsActive {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteType mirrors the ON DELETE SET NULL foreign key of the SQL schema.
func (r *deadlineRepo) DeleteType(ctx context.Context, id int64) error {
	if _, ok := r.st.types[id]; !ok {
		return apperr.NotFound("deadline type %d", id)
	}
	if _, err := r.OrphanByType(ctx, id); err != nil {
		return err
	}
	delete(r.st.types, id)
	return nil
}

// --- cash registers ---

type registerRepo struct{ st *state }

func (r *registerRepo) serialTaken(serial string, exceptID int64) bool {
	for id, reg := range r.st.registers {
		if id != exceptID && reg.IsActive && reg.SerialNumber == serial {
			return true
		}
	}
	return false
}

func (r *registerRepo) Create(_ context.Context, reg *equipment.CashRegister) error {
	if _, ok := r.st.clients[reg.ClientID]; !ok {
		return apperr.NotFound("client %d", reg.ClientID)
	}
	if reg.IsActive && r.serialTaken(reg.SerialNumber, 0) {
		return apperr.Validation("serial number %q is already used by an active register", reg.SerialNumber)
	}
	reg.ID = r.st.id()
	reg.CreatedAt = r.st.now()
	reg.UpdatedAt = reg.CreatedAt
	r.st.registers[reg.ID] = *reg
	return nil
}

func (r *registerRepo) GetByID(_ context.Context, id int64) (*equipment.CashRegister, error) {
	reg, ok := r.st.registers[id]
	if !ok {
		return nil, apperr.NotFound("cash register %d", id)
	}
	return &reg, nil
}

func (r *registerRepo) GetByIDForUpdate(ctx context.Context, id int64) (*equipment.CashRegister, error) {
	return r.GetByID(ctx, id)
}

func (r *registerRepo) UpdateComplianceDates(_ context.Context, id int64, dates equipment.ComplianceDates) error {
	reg, ok := r.st.registers[id]
	if !ok {
		return apperr.NotFound("cash register %d", id)
	}
	reg.Dates = dates
	reg.UpdatedAt = r.st.now()
	r.st.registers[id] = reg
	return nil
}

func (r *registerRepo) ListByClient(_ context.Context, clientID int64) ([]*equipment.CashRegister, error) {
	out := make([]*equipment.CashRegister, 0)
	for _, reg := range r.st.registers {
		if reg.ClientID == clientID {
			reg := reg
			out = append(out, &reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- notification markers and delivery log ---

type notificationRepo struct{ st *state }

func (r *notificationRepo) ListMarkers(_ context.Context, deadlineIDs []int64) ([]*notification.Marker, error) {
	wanted := make(map[int64]bool, len(deadlineIDs))
	for _, id := range deadlineIDs {
		wanted[id] = true
	}
	out := make([]*notification.Marker, 0)
	for k, m := range r.st.markers {
		if wanted[k.deadlineID] {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeadlineID != out[j].DeadlineID {
			return out[i].DeadlineID < out[j].DeadlineID
		}
		return out[i].RecipientChatID < out[j].RecipientChatID
	})
	return out, nil
}

func (r *notificationRepo) UpsertMarker(_ context.Context, m *notification.Marker) error {
	key := markerKey{deadlineID: m.DeadlineID, chatID: m.RecipientChatID}
	if cur, ok := r.st.markers[key]; ok && cur.Urgency.MoreUrgentThan(m.Urgency) {
		return nil
	}
	r.st.markers[key] = *m
	return nil
}

func (r *notificationRepo) ClearMarkers(_ context.Context, deadlineID int64) error {
	for k := range r.st.markers {
		if k.deadlineID == deadlineID {
			delete(r.st.markers, k)
		}
	}
	return nil
}

func (r *notificationRepo) LogDelivery(_ context.Context, entry *notification.DeliveryLog) error {
	entry.ID = r.st.id()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.st.now()
	}
	r.st.deliveries = append(r.st.deliveries, *entry)
	return nil
}

func (r *notificationRepo) ListFailedDeliveries(_ context.Context, since time.Time, limit int) ([]*notification.DeliveryLog, error) {
	out := make([]*notification.DeliveryLog, 0)
	for i := len(r.st.deliveries) - 1; i >= 0; i-- {
		e := r.st.deliveries[i]
		if e.Outcome != notification.OutcomeFailed || e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
