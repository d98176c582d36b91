package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"

	"tabla/internal/events"
	"tabla/internal/types"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	done chan struct{}
}

func (f *fakeSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	f.done <- struct{}{}
	return "projects/x/messages/1", nil
}

type fakeMirror struct {
	mu    sync.Mutex
	paths []string
	done  chan struct{}
}

func (f *fakeMirror) Set(_ context.Context, path string, _ any) error {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func TestTransitionMessage(t *testing.T) {
	courier := types.ID("d1")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := TransitionMessage(events.OrderTransitioned{
		OrderID: "o1", From: "picked_up", To: "failed", CourierID: &courier,
		Reason: "customer not at address", At: at,
	})
	if msg.Topic != "order_o1" {
		t.Fatalf("topic = %q", msg.Topic)
	}
	want := map[string]string{
		"type": "order_status", "order_id": "o1", "from": "picked_up", "status": "failed",
		"courier_id": "d1", "reason": "customer not at address",
	}
	for k, v := range want {
		if msg.Data[k] != v {
			t.Errorf("data[%s] = %q, want %q", k, msg.Data[k], v)
		}
	}
	if msg.Notification == nil || msg.Notification.Title != "Delivery failed" {
		t.Fatalf("unexpected notification %+v", msg.Notification)
	}
}

func TestTransitionMessage_Unassigned(t *testing.T) {
	msg := TransitionMessage(events.OrderTransitioned{OrderID: "o2", From: "none", To: "pending"})
	if _, ok := msg.Data["courier_id"]; ok {
		t.Fatal("courier_id must be absent when unassigned")
	}
	if msg.Notification.Title != "Order updated" {
		t.Fatalf("title = %q", msg.Notification.Title)
	}
}

func TestLocationEntry(t *testing.T) {
	path, v := LocationEntry(events.LocationUpdated{
		OrderID: "o1", CourierID: "d1", Point: types.Point{Lat: 25.03, Lng: 121.56},
		At: time.UnixMilli(1700000000000),
	})
	if path != "order_locations/o1" {
		t.Fatalf("path = %q", path)
	}
	e := v.(rtdbEntry)
	if e.Lat != 25.03 || e.Lng != 121.56 || e.Timestamp != 1700000000000 || e.CourierID != "d1" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestNotifier_RoutesEvents(t *testing.T) {
	sender := &fakeSender{done: make(chan struct{}, 4)}
	mirror := &fakeMirror{done: make(chan struct{}, 4)}
	n := New(sender, mirror, 8)
	bus := events.NewBus()
	n.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	bus.Emit(events.Event{Type: events.TypeOrderTransitioned, Payload: events.OrderTransitioned{OrderID: "o1", To: "accepted"}})
	bus.Emit(events.Event{Type: events.TypeLocationUpdated, Payload: events.LocationUpdated{OrderID: "o1"}})
	// courier-level heartbeats are not mirrored
	bus.Emit(events.Event{Type: events.TypeLocationUpdated, Payload: events.LocationUpdated{CourierID: "d1"}})

	for _, ch := range []chan struct{}{sender.done, mirror.done} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for push")
		}
	}
	cancel()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.paths) != 1 || mirror.paths[0] != "order_locations/o1" {
		t.Fatalf("mirror paths = %v", mirror.paths)
	}
}

func TestNotifier_NilClientsAreNoops(t *testing.T) {
	n := New(nil, nil, 1)
	n.handle(events.Event{Type: events.TypeOrderTransitioned, Payload: events.OrderTransitioned{OrderID: "o1"}})
	n.handle(events.Event{Type: events.TypeLocationUpdated, Payload: events.LocationUpdated{OrderID: "o1"}})
	if len(n.jobs) != 0 {
		t.Fatalf("queued %d jobs with no clients", len(n.jobs))
	}
}
