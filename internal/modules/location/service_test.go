package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"tabla/internal/events"
	"tabla/internal/realtime"
	"tabla/internal/types"
)

type recordedLocation struct {
	id types.ID
	p  types.Point
}

type fakeRecorder struct {
	calls []recordedLocation
	err   error
}

func (f *fakeRecorder) RecordLocation(_ context.Context, id types.ID, p types.Point, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, recordedLocation{id: id, p: p})
	return nil
}

type fakeActive map[types.ID]types.ID

func (f fakeActive) ActiveOrderID(_ context.Context, courierID types.ID) (types.ID, bool, error) {
	id, ok := f[courierID]
	return id, ok, nil
}

type failingFanout struct{}

func (failingFanout) Broadcast(context.Context, realtime.Topic, realtime.Envelope) error {
	return errors.New("redis: connection refused")
}

func drain(t *testing.T, c *realtime.Client) []Sample {
	t.Helper()
	var out []Sample
	for {
		select {
		case env := <-c.Messages():
			if env.Type != EnvelopeLocation {
				t.Fatalf("unexpected envelope type %q", env.Type)
			}
			var s Sample
			if err := json.Unmarshal(env.Data, &s); err != nil {
				t.Fatalf("decode sample: %v", err)
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestPublishOrderLocation_LastWriteWinsAndFansOut(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(16)
	orders := &fakeRecorder{}
	svc := NewService(NewMemoryStore(), hub, Options{Orders: orders})

	orderID := types.ID("o1")
	manager, customer := hub.NewClient(), hub.NewClient()
	hub.Join(realtime.OrderTopic(orderID), manager)
	hub.Join(realtime.OrderTopic(orderID), customer)

	if _, err := svc.PublishOrderLocation(ctx, orderID, 25.0330, 121.5654); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, err := svc.PublishOrderLocation(ctx, orderID, 25.0340, 121.5660); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	for _, c := range []*realtime.Client{manager, customer} {
		got := drain(t, c)
		if len(got) != 2 {
			t.Fatalf("subscriber received %d samples, want 2", len(got))
		}
		if got[0].Lat != 25.0330 || got[1].Lat != 25.0340 {
			t.Fatalf("samples out of publish order: %+v", got)
		}
	}

	view, err := svc.OrderLocation(ctx, orderID)
	if err != nil {
		t.Fatalf("OrderLocation: %v", err)
	}
	if view.Lat != 25.0340 || view.Lng != 121.5660 {
		t.Fatalf("last-known = %+v, want second sample", view.Sample)
	}
	if len(orders.calls) != 2 || orders.calls[1].p.Lat != 25.0340 {
		t.Fatalf("order currentLocation not mirrored: %+v", orders.calls)
	}
}

func TestPublishOrderLocation_InvalidCoordinates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, realtime.NewHub(4), Options{})

	tests := []struct {
		name     string
		lat, lng float64
	}{
		{"lat too high", 91, 0},
		{"lng too low", 0, -181},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PublishOrderLocation(ctx, "o1", tt.lat, tt.lng)
			if !errors.Is(err, ErrInvalidLocation) {
				t.Fatalf("expected ErrInvalidLocation, got %v", err)
			}
		})
	}
	if _, err := svc.OrderLocation(ctx, "o1"); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("invalid samples must not be stored, got %v", err)
	}
}

func TestPublishOrderLocation_UnknownOrder(t *testing.T) {
	notFound := errors.New("order not found")
	svc := NewService(NewMemoryStore(), realtime.NewHub(4), Options{Orders: &fakeRecorder{err: notFound}})
	if _, err := svc.PublishOrderLocation(context.Background(), "missing", 1, 1); !errors.Is(err, notFound) {
		t.Fatalf("expected recorder error, got %v", err)
	}
}

func TestPublishOrderLocation_TransportFailureKeepsSample(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), failingFanout{}, Options{})

	_, err := svc.PublishOrderLocation(ctx, "o1", 10, 10)
	if !errors.Is(err, realtime.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if _, err := svc.OrderLocation(ctx, "o1"); err != nil {
		t.Fatalf("sample should be stored despite transport failure: %v", err)
	}
}

func TestOrderLocation_StaleFlag(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil, Options{StaleAfter: 30 * time.Second})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.PublishOrderLocation(ctx, "o1", 1, 1); err != nil {
		t.Fatal(err)
	}

	svc.now = func() time.Time { return base.Add(10 * time.Second) }
	v, err := svc.OrderLocation(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Stale {
		t.Fatal("10s old sample should not be stale")
	}

	svc.now = func() time.Time { return base.Add(31 * time.Second) }
	v, _ = svc.OrderLocation(ctx, "o1")
	if !v.Stale {
		t.Fatal("31s old sample should be stale")
	}
}

func TestPublishCourierLocation_MirrorsIntoActiveOrder(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(8)
	bus := events.NewBus()
	var seen []events.LocationUpdated
	bus.SubscribeTypes(func(e events.Event) {
		seen = append(seen, e.Payload.(events.LocationUpdated))
	}, events.TypeLocationUpdated)

	couriers, orders := &fakeRecorder{}, &fakeRecorder{}
	svc := NewService(NewMemoryStore(), hub, Options{
		Orders:   orders,
		Couriers: couriers,
		Active:   fakeActive{"d1": "o1"},
		Bus:      bus,
	})

	watcher := hub.NewClient()
	hub.Join(realtime.OrderTopic("o1"), watcher)

	if _, err := svc.PublishCourierLocation(ctx, "d1", 25.04, 121.55); err != nil {
		t.Fatalf("PublishCourierLocation: %v", err)
	}
	if _, err := svc.PublishCourierLocation(ctx, "d2", 25.05, 121.56); err != nil {
		t.Fatalf("idle courier heartbeat: %v", err)
	}

	got := drain(t, watcher)
	if len(got) != 1 || got[0].CourierID != "d1" || got[0].OrderID != "o1" {
		t.Fatalf("order room samples = %+v", got)
	}
	if len(couriers.calls) != 2 || len(orders.calls) != 1 {
		t.Fatalf("recorder calls couriers=%d orders=%d", len(couriers.calls), len(orders.calls))
	}
	if len(seen) != 3 {
		t.Fatalf("bus saw %d location events, want 3", len(seen))
	}
	if _, err := svc.OrderLocation(ctx, "o1"); err != nil {
		t.Fatalf("order last-known not set: %v", err)
	}
}

func TestNearbyCouriers_Memory(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), nil, Options{})
	_, _ = svc.PublishCourierLocation(ctx, "near", 25.0340, 121.5645)
	_, _ = svc.PublishCourierLocation(ctx, "mid", 25.0478, 121.5170)
	_, _ = svc.PublishCourierLocation(ctx, "far", 24.1477, 120.6736)

	got, err := svc.NearbyCouriers(ctx, types.Point{Lat: 25.0335, Lng: 121.5650}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].CourierID != "near" || got[1].CourierID != "mid" {
		t.Fatalf("nearby = %+v", got)
	}
}

func TestRedisStore_Integration(t *testing.T) {
	redisAddr := os.Getenv("TABLA_TEST_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("TABLA_TEST_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	store := NewRedisStore(rdb)
	svc := NewService(store, nil, Options{})

	uid := types.ID(fmt.Sprintf("courier_test_%d", time.Now().UnixNano()))
	if _, err := svc.PublishCourierLocation(ctx, uid, 40.7128, -74.0060); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos, err := rdb.GeoPos(ctx, courierGeoKey, uid.String()).Result()
	if err != nil {
		t.Fatalf("failed to query redis geo: %v", err)
	}
	if len(pos) == 0 || pos[0] == nil {
		t.Fatalf("courier not found in geo set")
	}

	near, err := store.NearbyCouriers(ctx, types.Point{Lat: 40.7130, Lng: -74.0065}, 1, 0)
	if err != nil {
		t.Fatalf("NearbyCouriers: %v", err)
	}
	found := false
	for _, n := range near {
		if n.CourierID == uid {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in nearby results", uid)
	}

	v, err := svc.CourierLocation(ctx, uid)
	if err != nil {
		t.Fatalf("CourierLocation: %v", err)
	}
	if v.Lat != 40.7128 {
		t.Fatalf("last-known lat = %f", v.Lat)
	}
	rdb.ZRem(ctx, courierGeoKey, uid.String())
}
