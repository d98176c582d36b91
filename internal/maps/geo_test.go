package maps

import (
	"math"
	"testing"

	"tabla/internal/types"
)

func TestBearing_Cardinal(t *testing.T) {
	tests := []struct {
		name                   string
		fromLat, fromLng       float64
		toLat, toLng           float64
		want                   float64
	}{
		{"north", 0, 0, 1, 0, 0},
		{"east", 0, 0, 0, 1, 90},
		{"south", 1, 0, 0, 0, 180},
		{"west", 0, 1, 0, 0, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(tt.fromLat, tt.fromLng, tt.toLat, tt.toLng)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Bearing() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestBearing_SamePoint(t *testing.T) {
	if got := Bearing(9.72, 80.22, 9.72, 80.22); got != 0 {
		t.Fatalf("same point bearing = %f, want 0", got)
	}
}

func TestBearing_Range(t *testing.T) {
	points := []float64{-89.9, -45, -1, 0, 0.0001, 1, 45, 89.9}
	lngs := []float64{-179.9, -90, -0.5, 0, 0.5, 90, 179.9}
	for _, a := range points {
		for _, b := range lngs {
			for _, c := range points {
				for _, d := range lngs {
					got := Bearing(a, b, c, d)
					if got < 0 || got >= 360 || math.IsNaN(got) {
						t.Fatalf("Bearing(%v,%v,%v,%v) = %v out of [0,360)", a, b, c, d, got)
					}
				}
			}
		}
	}
}

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{"same point", types.Point{Lat: 9.72, Lng: 80.22}, types.Point{Lat: 9.72, Lng: 80.22}, 0, 0.001},
		{"New York to Los Angeles (~3944km)", types.Point{Lat: 40.7128, Lng: -74.0060}, types.Point{Lat: 34.0522, Lng: -118.2437}, 3944, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("DistanceKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestFallbackRoute_HasEndpoints(t *testing.T) {
	from := types.Point{Lat: 9.72, Lng: 80.22}
	to := types.Point{Lat: 9.73, Lng: 80.23}
	r := FallbackRoute(from, to)
	if len(r.Path) != 2 || r.Path[0] != from || r.Path[1] != to {
		t.Fatalf("unexpected path: %v", r.Path)
	}
	if !r.Fallback {
		t.Fatal("expected fallback flag")
	}
	if r.DistanceKm <= 0 {
		t.Fatalf("expected positive distance, got %f", r.DistanceKm)
	}
}

func TestFallbackRoute_SamePoint(t *testing.T) {
	p := types.Point{Lat: 1, Lng: 1}
	r := FallbackRoute(p, p)
	if len(r.Path) != 2 {
		t.Fatalf("expected two endpoints even for identical points, got %d", len(r.Path))
	}
	if r.Bearing != 0 || r.DistanceKm != 0 {
		t.Fatalf("unexpected bearing/distance: %f/%f", r.Bearing, r.DistanceKm)
	}
}
