// README: Courier service: registration, self-service availability toggle, breaks and location heartbeat.
package courier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tabla/internal/modules/location"
	"tabla/internal/types"
)

// Locator answers proximity queries over the last reported courier positions.
type Locator interface {
	NearbyCouriers(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]location.NearbyCourier, error)
}

type Service struct {
	store   Store
	locator Locator
	now     func() time.Time
}

func NewService(store Store, locator Locator) *Service {
	return &Service{store: store, locator: locator, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Courier, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrBadRequest)
	}
	id := cmd.ID
	if id == "" {
		id = types.NewID()
	}
	now := s.now()
	c := &Courier{ID: id, Name: name, Status: StatusOffline, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Courier, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status Status) ([]*Courier, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, status)
	}
	return s.store.List(ctx, status)
}

// SetAvailability is the courier's own online/offline switch. It is refused
// while the courier is busy or on break; pending orders never block it.
func (s *Service) SetAvailability(ctx context.Context, id types.ID, available bool) (*Courier, error) {
	to := StatusOffline
	if available {
		to = StatusAvailable
	}
	return s.swap(ctx, id, []Status{StatusOffline, StatusAvailable}, to)
}

func (s *Service) StartBreak(ctx context.Context, id types.ID) (*Courier, error) {
	return s.swap(ctx, id, []Status{StatusAvailable, StatusOnBreak}, StatusOnBreak)
}

func (s *Service) EndBreak(ctx context.Context, id types.ID) (*Courier, error) {
	return s.swap(ctx, id, []Status{StatusOnBreak, StatusAvailable}, StatusAvailable)
}

func (s *Service) swap(ctx context.Context, id types.ID, from []Status, to Status) (*Courier, error) {
	c, ok, err := s.store.SwapStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: delivery person is %s", ErrToggleBlocked, c.Status)
	}
	return c, nil
}

// RecordLocation stores the heartbeat position on the courier record.
func (s *Service) RecordLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	return s.store.SetLocation(ctx, id, p, at)
}

type Nearby struct {
	Courier    *Courier `json:"courier"`
	DistanceKm float64  `json:"distance_km"`
}

// NearbyAvailable lists available couriers within radiusKm of center, nearest first.
func (s *Service) NearbyAvailable(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("%w: invalid coordinates", ErrBadRequest)
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrBadRequest)
	}
	if s.locator == nil {
		return nil, nil
	}
	hits, err := s.locator.NearbyCouriers(ctx, center, radiusKm, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, 0, len(hits))
	for _, h := range hits {
		c, err := s.store.Get(ctx, h.CourierID)
		if err != nil {
			continue
		}
		if c.Status != StatusAvailable {
			continue
		}
		out = append(out, Nearby{Courier: c, DistanceKm: h.DistanceKm})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
