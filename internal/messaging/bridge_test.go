package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tabla/internal/config"
	"tabla/internal/events"
	"tabla/internal/modules/location"
	"tabla/internal/types"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []outbound
	got  chan struct{}
}

func (c *capturePublisher) Publish(_ context.Context, _ string, key string, payload []byte) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, outbound{key: key, data: payload})
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func TestExporter_ForwardsTransitionsOnly(t *testing.T) {
	pub := &capturePublisher{got: make(chan struct{}, 4)}
	bus := events.NewBus()
	exp := NewExporter(pub, "tabla.order-events", 4)
	exp.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = exp.Run(ctx) }()

	bus.Emit(events.Event{Type: events.TypeLocationUpdated, Payload: events.LocationUpdated{}})
	bus.Emit(events.Event{Type: events.TypeOrderTransitioned, Payload: events.OrderTransitioned{
		OrderID: "o1", From: "pending", To: "accepted",
	}})

	select {
	case <-pub.got:
	case <-time.After(2 * time.Second):
		t.Fatal("exporter did not publish")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	if pub.msgs[0].key != "o1" {
		t.Fatalf("key = %q, want order id", pub.msgs[0].key)
	}
	var env Envelope
	if err := json.Unmarshal(pub.msgs[0].data, &env); err != nil {
		t.Fatal(err)
	}
	var p events.OrderTransitioned
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if env.Type != string(events.TypeOrderTransitioned) || p.To != "accepted" {
		t.Fatalf("unexpected envelope %+v / %+v", env, p)
	}
}

func TestExporter_DropsWhenFull(t *testing.T) {
	exp := NewExporter(nil, "t", 1)
	evt := events.Event{Type: events.TypeOrderTransitioned, Payload: events.OrderTransitioned{OrderID: "o"}}
	exp.enqueue(evt)
	exp.enqueue(evt)
	if len(exp.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(exp.queue))
	}
}

func TestDecodeDeviceLocation(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"courier", `{"courier_id":"d1","lat":25.03,"lng":121.56}`, false},
		{"order", `{"order_id":"o1","lat":25.03,"lng":121.56}`, false},
		{"no subject", `{"lat":1,"lng":2}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDeviceLocation([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type fakeLocations struct {
	courier, order []types.ID
	err            error
}

func (f *fakeLocations) PublishOrderLocation(_ context.Context, id types.ID, lat, lng float64) (location.Sample, error) {
	f.order = append(f.order, id)
	return location.Sample{OrderID: id, Lat: lat, Lng: lng}, f.err
}

func (f *fakeLocations) PublishCourierLocation(_ context.Context, id types.ID, lat, lng float64) (location.Sample, error) {
	f.courier = append(f.courier, id)
	return location.Sample{CourierID: id, Lat: lat, Lng: lng}, f.err
}

func TestLocationIngest_Routes(t *testing.T) {
	sink := &fakeLocations{}
	in := NewLocationIngest(sink)
	ctx := context.Background()

	if err := in.handle(ctx, []byte(`{"courier_id":"d1","order_id":"o9","lat":1,"lng":2}`)); err != nil {
		t.Fatal(err)
	}
	if err := in.handle(ctx, []byte(`{"order_id":"o2","lat":1,"lng":2}`)); err != nil {
		t.Fatal(err)
	}
	if len(sink.courier) != 1 || sink.courier[0] != "d1" {
		t.Fatalf("courier samples = %v", sink.courier)
	}
	if len(sink.order) != 1 || sink.order[0] != "o2" {
		t.Fatalf("order samples = %v", sink.order)
	}

	sink.err = location.ErrInvalidLocation
	if err := in.handle(ctx, []byte(`{"courier_id":"d1","lat":100,"lng":2}`)); !errors.Is(err, location.ErrInvalidLocation) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestClient_UnknownBackend(t *testing.T) {
	c := NewClient(config.MessagingConfig{Backend: "carrier-pigeon"})
	if err := c.Connect(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if err := c.Publish(context.Background(), "t", "", nil); err == nil {
		t.Fatal("expected publish error for unknown backend")
	}
	if c.IsConnected() {
		t.Fatal("unknown backend must not report connected")
	}
	c.Close()
}
