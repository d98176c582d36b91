// README: Google Directions client for courier-to-dropoff routes.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"tabla/internal/types"
)

// ErrNoRoute is returned when the provider answers without a usable route.
var ErrNoRoute = errors.New("no route found")

// Route is a renderable path between two points.
type Route struct {
	Path       []types.Point `json:"path"`
	DistanceKm float64       `json:"distance_km"`
	Duration   time.Duration `json:"duration"`
	Bearing    float64       `json:"bearing"`
	Fallback   bool          `json:"fallback"`
}

// Provider computes a road route between two points.
type Provider interface {
	Route(ctx context.Context, from, to types.Point) (Route, error)
}

// RouteService handles interactions with the Google Maps Directions API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts ...maps.ClientOption) (*RouteService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Route asks Directions for a driving route and flattens the overview polyline.
func (s *RouteService) Route(ctx context.Context, from, to types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrNoRoute
	}

	decoded, err := routes[0].OverviewPolyline.Decode()
	if err != nil {
		return Route{}, fmt.Errorf("decode polyline: %w", err)
	}
	path := make([]types.Point, 0, len(decoded)+2)
	path = append(path, from)
	for _, p := range decoded {
		path = append(path, types.Point{Lat: p.Lat, Lng: p.Lng})
	}
	path = append(path, to)

	var meters int
	var dur time.Duration
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
		dur += leg.Duration
	}
	return Route{
		Path:       path,
		DistanceKm: float64(meters) / 1000,
		Duration:   dur,
		Bearing:    Bearing(from.Lat, from.Lng, to.Lat, to.Lng),
	}, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
