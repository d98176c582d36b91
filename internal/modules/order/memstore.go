// README: In-memory order store. Atomic holds one lock over orders and couriers and commits staged writes on success.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"tabla/internal/modules/courier"
	"tabla/internal/types"
)

type MemoryStore struct {
	mu          sync.Mutex
	orders      map[types.ID]*Order
	events      []Event
	nextEventID int64
	couriers    *courier.MemoryStore
}

// NewMemoryStore shares couriers with the courier service so that guard
// writes and availability toggles see the same records.
func NewMemoryStore(couriers *courier.MemoryStore) *MemoryStore {
	return &MemoryStore{
		orders:   make(map[types.ID]*Order),
		couriers: couriers,
	}
}

func (m *MemoryStore) Create(_ context.Context, o *Order, created *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrConflict
	}
	m.orders[o.ID] = cloneOrder(o)
	if created != nil {
		m.appendLocked(created)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) List(_ context.Context, f ListFilter) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.CourierID != "" && !o.assignedTo(f.CourierID) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ActiveForCourier(_ context.Context, courierID types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Status.Active() && o.assignedTo(courierID) {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetLocation(_ context.Context, id types.ID, p types.Point, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	pt, ts := p, at
	o.CurrentLocation = &pt
	o.LocationAt = &ts
	return nil
}

func (m *MemoryStore) Events(_ context.Context, orderID types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &memUnit{store: m, staged: make(map[types.ID]*Order)}
	err := m.couriers.WithLock(func(tx *courier.MemoryTx) error {
		u.couriers = tx
		return fn(ctx, u)
	})
	if err != nil {
		return err
	}
	for id, o := range u.staged {
		m.orders[id] = o
	}
	for i := range u.events {
		m.appendLocked(&u.events[i])
	}
	return nil
}

func (m *MemoryStore) appendLocked(e *Event) {
	m.nextEventID++
	e.ID = m.nextEventID
	m.events = append(m.events, *e)
}

type memUnit struct {
	store    *MemoryStore
	couriers *courier.MemoryTx
	staged   map[types.ID]*Order
	events   []Event
}

func (u *memUnit) current(id types.ID) (*Order, bool) {
	if o, ok := u.staged[id]; ok {
		return o, true
	}
	o, ok := u.store.orders[id]
	return o, ok
}

func (u *memUnit) LockOrder(_ context.Context, id types.ID) (*Order, error) {
	o, ok := u.current(id)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (u *memUnit) SaveTransition(_ context.Context, o *Order, expectedVersion int) error {
	cur, ok := u.current(o.ID)
	if !ok {
		return ErrNotFound
	}
	if cur.StatusVersion != expectedVersion {
		return ErrConflict
	}
	o.StatusVersion = expectedVersion + 1
	u.staged[o.ID] = cloneOrder(o)
	return nil
}

func (u *memUnit) AppendEvent(_ context.Context, e *Event) error {
	u.events = append(u.events, *e)
	return nil
}

func (u *memUnit) Courier(_ context.Context, id types.ID) (*courier.Courier, error) {
	return u.couriers.Get(id)
}

func (u *memUnit) SetCourierStatus(_ context.Context, id types.ID, status courier.Status) error {
	return u.couriers.SetStatus(id, status)
}

func (u *memUnit) ActiveOrderFor(_ context.Context, courierID, exclude types.ID) (types.ID, bool, error) {
	seen := make(map[types.ID]bool, len(u.staged))
	for id, o := range u.staged {
		seen[id] = true
		if id != exclude && o.Status.Active() && o.assignedTo(courierID) {
			return id, true, nil
		}
	}
	for id, o := range u.store.orders {
		if seen[id] || id == exclude {
			continue
		}
		if o.Status.Active() && o.assignedTo(courierID) {
			return id, true, nil
		}
	}
	return "", false, nil
}

func cloneOrder(o *Order) *Order {
	cp := *o
	if o.AssignedCourierID != nil {
		v := *o.AssignedCourierID
		cp.AssignedCourierID = &v
	}
	if o.CurrentLocation != nil {
		v := *o.CurrentLocation
		cp.CurrentLocation = &v
	}
	if o.Dropoff != nil {
		v := *o.Dropoff
		cp.Dropoff = &v
	}
	if o.FailureReason != nil {
		v := *o.FailureReason
		cp.FailureReason = &v
	}
	cp.Items = append([]Item(nil), o.Items...)
	return &cp
}
