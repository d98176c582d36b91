// README: Location samples, last-known views and proximity results.
package location

import (
	"errors"
	"time"

	"tabla/internal/types"
)

var (
	ErrInvalidLocation = errors.New("invalid location")
	ErrNoLocation      = errors.New("no location reported yet")
)

// Sample is one device position. Exactly one of OrderID or CourierID scopes it.
type Sample struct {
	OrderID   types.ID  `json:"order_id,omitempty"`
	CourierID types.ID  `json:"courier_id,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

func (s Sample) Point() types.Point {
	return types.Point{Lat: s.Lat, Lng: s.Lng}
}

// View is the last-known sample plus whether it is older than the stale window.
type View struct {
	Sample
	Stale bool          `json:"stale"`
	Age   time.Duration `json:"age_ns"`
}

type NearbyCourier struct {
	CourierID  types.ID    `json:"courier_id"`
	Point      types.Point `json:"point"`
	DistanceKm float64     `json:"distance_km"`
}
