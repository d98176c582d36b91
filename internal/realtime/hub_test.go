package realtime

import (
	"context"
	"testing"

	"tabla/internal/events"
	"tabla/internal/types"
)

func recv(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Messages():
		if !ok {
			t.Fatal("client channel closed")
		}
		return env
	default:
		t.Fatal("expected a queued envelope")
	}
	return Envelope{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.Messages():
		t.Fatalf("unexpected envelope %+v", env)
	default:
	}
}

func TestHub_BroadcastReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub(8)
	ctx := context.Background()
	room := OrderTopic(types.ID("o1"))

	a, b, outsider := h.NewClient(), h.NewClient(), h.NewClient()
	h.Join(room, a)
	h.Join(room, b)
	h.Join(OrderTopic(types.ID("o2")), outsider)

	for _, kind := range []string{"first", "second"} {
		env, err := NewEnvelope(kind, room, map[string]string{"k": kind})
		if err != nil {
			t.Fatal(err)
		}
		if err := h.Broadcast(ctx, room, env); err != nil {
			t.Fatal(err)
		}
	}

	for _, c := range []*Client{a, b} {
		if got := recv(t, c).Type; got != "first" {
			t.Errorf("client %d: first envelope = %q", c.ID(), got)
		}
		if got := recv(t, c).Type; got != "second" {
			t.Errorf("client %d: second envelope = %q", c.ID(), got)
		}
	}
	assertEmpty(t, outsider)
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	h := NewHub(4)
	room := CourierTopic(types.ID("c1"))
	c := h.NewClient()

	h.Leave(room, c)
	h.Join(room, c)
	h.Join(room, c)
	if n := h.Members(room); n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}
	h.Leave(room, c)
	h.Leave(room, c)
	if n := h.Members(room); n != 0 {
		t.Fatalf("members after leave = %d, want 0", n)
	}
	_ = h.Broadcast(context.Background(), room, Envelope{Type: "x"})
	assertEmpty(t, c)
}

func TestHub_DisconnectClosesAndRemoves(t *testing.T) {
	h := NewHub(4)
	r1, r2 := OrderTopic(types.ID("a")), OrderTopic(types.ID("b"))
	c := h.NewClient()
	h.Join(r1, c)
	h.Join(r2, c)

	h.Disconnect(c)
	h.Disconnect(c)

	if h.Members(r1)+h.Members(r2) != 0 {
		t.Fatal("disconnected client still a member")
	}
	if _, ok := <-c.Messages(); ok {
		t.Fatal("expected closed channel")
	}
	h.Join(r1, c)
	if h.Members(r1) != 0 {
		t.Fatal("closed client must not rejoin")
	}
	_ = h.Broadcast(context.Background(), r1, Envelope{Type: "x"})
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	room := OrderTopic(types.ID("o"))
	c := h.NewClient()
	h.Join(room, c)

	for i := 0; i < 5; i++ {
		_ = h.Broadcast(context.Background(), room, Envelope{Type: "tick"})
	}
	if h.Dropped() != 4 {
		t.Fatalf("dropped = %d, want 4", h.Dropped())
	}
}

func TestConversationTopic(t *testing.T) {
	got := ConversationTopic(types.ID("m1"), types.ID("p9"))
	if got != "conversation:m1:p9" {
		t.Fatalf("got %q", got)
	}
}

func TestForwardTransitions(t *testing.T) {
	hub := NewHub(4)
	bus := events.NewBus()
	ForwardTransitions(bus, hub)

	c := hub.NewClient()
	hub.Join(OrderTopic("o1"), c)

	bus.Emit(events.Event{Type: events.TypeOrderTransitioned, Payload: events.OrderTransitioned{OrderID: "o1", From: "pending", To: "accepted"}})
	bus.Emit(events.Event{Type: events.TypeOrderTransitioned, Payload: events.OrderTransitioned{OrderID: "o2", To: "accepted"}})

	select {
	case env := <-c.Messages():
		if env.Type != EnvelopeStatus || env.Topic != OrderTopic("o1") {
			t.Fatalf("unexpected envelope %+v", env)
		}
	default:
		t.Fatal("expected a status envelope")
	}
	select {
	case env := <-c.Messages():
		t.Fatalf("received envelope for another order: %+v", env)
	default:
	}
}
