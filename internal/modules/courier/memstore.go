// README: In-memory courier store for tests and single-process runs without Postgres.
package courier

import (
	"context"
	"sort"
	"sync"
	"time"

	"tabla/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	couriers map[types.ID]*Courier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{couriers: make(map[types.ID]*Courier)}
}

func (s *MemoryStore) Create(_ context.Context, c *Courier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.couriers[c.ID]; ok {
		return ErrExists
	}
	cp := *c
	s.couriers[c.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Courier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couriers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, status Status) ([]*Courier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Courier, 0, len(s.couriers))
	for _, c := range s.couriers {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SwapStatus(_ context.Context, id types.ID, from []Status, to Status) (*Courier, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couriers[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	swapped := false
	for _, st := range from {
		if c.Status == st {
			c.Status = to
			c.UpdatedAt = time.Now().UTC()
			swapped = true
			break
		}
	}
	cp := *c
	return &cp, swapped, nil
}

func (s *MemoryStore) SetLocation(_ context.Context, id types.ID, p types.Point, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couriers[id]
	if !ok {
		return ErrNotFound
	}
	pt := p
	ts := at
	c.CurrentLocation = &pt
	c.LocationAt = &ts
	return nil
}

// MemoryTx stages status changes made while WithLock holds the store.
type MemoryTx struct {
	store  *MemoryStore
	staged map[types.ID]Status
}

func (tx *MemoryTx) Get(id types.ID) (*Courier, error) {
	c, ok := tx.store.couriers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	if st, ok := tx.staged[id]; ok {
		cp.Status = st
	}
	return &cp, nil
}

func (tx *MemoryTx) SetStatus(id types.ID, status Status) error {
	if _, ok := tx.store.couriers[id]; !ok {
		return ErrNotFound
	}
	tx.staged[id] = status
	return nil
}

// WithLock runs fn with the store locked. Staged changes are applied only
// when fn returns nil.
func (s *MemoryStore) WithLock(fn func(tx *MemoryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &MemoryTx{store: s, staged: make(map[types.ID]Status)}
	if err := fn(tx); err != nil {
		return err
	}
	now := time.Now().UTC()
	for id, st := range tx.staged {
		c := s.couriers[id]
		c.Status = st
		c.UpdatedAt = now
	}
	return nil
}
