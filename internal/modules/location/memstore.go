// README: In-memory location store; proximity uses haversine over every known courier.
package location

import (
	"context"
	"sync"

	"tabla/internal/types"
)

type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[types.ID]Sample
	couriers map[types.ID]Sample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[types.ID]Sample),
		couriers: make(map[types.ID]Sample),
	}
}

func (m *MemoryStore) SetOrderSample(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[s.OrderID] = s
	return nil
}

func (m *MemoryStore) OrderSample(_ context.Context, orderID types.ID) (Sample, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.orders[orderID]
	return s, ok, nil
}

func (m *MemoryStore) SetCourierSample(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.couriers[s.CourierID] = s
	return nil
}

func (m *MemoryStore) CourierSample(_ context.Context, courierID types.ID) (Sample, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.couriers[courierID]
	return s, ok, nil
}

func (m *MemoryStore) NearbyCouriers(_ context.Context, center types.Point, radiusKm float64, limit int) ([]NearbyCourier, error) {
	m.mu.RLock()
	var result []NearbyCourier
	for id, s := range m.couriers {
		dist := haversineKm(center.Lat, center.Lng, s.Lat, s.Lng)
		if dist <= radiusKm {
			result = append(result, NearbyCourier{CourierID: id, Point: s.Point(), DistanceKm: dist})
		}
	}
	m.mu.RUnlock()

	sortByDistance(result, func(n NearbyCourier) float64 { return n.DistanceKm })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
