package maps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"tabla/internal/types"
)

const directionsOK = `{
  "status": "OK",
  "routes": [{
    "overview_polyline": {"points": "_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@"},
    "legs": [{
      "distance": {"text": "1.2 km", "value": 1200},
      "duration": {"text": "5 mins", "value": 300}
    }]
  }]
}`

func directionsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/directions/json") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouteService_Route(t *testing.T) {
	srv := directionsServer(t, directionsOK)
	svc, err := NewRouteService("test-key", maps.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	from := types.Point{Lat: 38.5, Lng: -120.2}
	to := types.Point{Lat: 43.252, Lng: -126.453}

	r, err := svc.Route(context.Background(), from, to)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(r.Path) != 5 || r.Path[0] != from || r.Path[len(r.Path)-1] != to {
		t.Fatalf("path = %v", r.Path)
	}
	if r.DistanceKm != 1.2 || r.Duration != 5*time.Minute || r.Fallback {
		t.Fatalf("route = %+v", r)
	}
}

func TestRouteService_NoRoute(t *testing.T) {
	srv := directionsServer(t, `{"status": "OK", "routes": []}`)
	svc, err := NewRouteService("test-key", maps.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Route(context.Background(), types.Point{Lat: 1, Lng: 1}, types.Point{Lat: 2, Lng: 2})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestPlanner_UsesProviderRoute(t *testing.T) {
	srv := directionsServer(t, directionsOK)
	svc, err := NewRouteService("test-key", maps.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	p := NewPlanner(svc, 10*time.Second, 25)
	r := p.Plan(context.Background(), "o1", types.Point{Lat: 38.5, Lng: -120.2}, types.Point{Lat: 43.252, Lng: -126.453})
	if r.Fallback || r.Duration != 5*time.Minute {
		t.Fatalf("planner should use the provider route, got %+v", r)
	}
}
