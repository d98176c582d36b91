// README: Firebase side channels: FCM topic pushes on order transitions and an RTDB mirror of order locations.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"tabla/internal/events"
	"tabla/internal/types"
)

const locationsNode = "order_locations"

// Sender is the part of the FCM client used here.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Mirror writes a value at an RTDB path.
type Mirror interface {
	Set(ctx context.Context, path string, v any) error
}

// Notifier pushes order updates to Firebase. Work is queued from the event
// bus and drained by Run so that transitions never wait on Firebase.
type Notifier struct {
	fcm    Sender
	mirror Mirror
	jobs   chan func(context.Context) error
}

func New(fcm Sender, mirror Mirror, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{fcm: fcm, mirror: mirror, jobs: make(chan func(context.Context) error, buffer)}
}

// NewFromApp builds a Notifier from an initialised Firebase app. The RTDB
// mirror is skipped when the app has no database URL.
func NewFromApp(ctx context.Context, app *firebase.App, withDatabase bool, buffer int) (*Notifier, error) {
	fcm, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	var mirror Mirror
	if withDatabase {
		dbClient, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
		}
		mirror = rtdbMirror{client: dbClient}
	}
	return New(fcm, mirror, buffer), nil
}

func (n *Notifier) Attach(bus *events.Bus) events.SubscriberID {
	return bus.SubscribeTypes(n.handle, events.TypeOrderTransitioned, events.TypeLocationUpdated)
}

func (n *Notifier) handle(evt events.Event) {
	switch p := evt.Payload.(type) {
	case events.OrderTransitioned:
		if n.fcm == nil {
			return
		}
		msg := TransitionMessage(p)
		n.enqueue(func(ctx context.Context) error {
			id, err := n.fcm.Send(ctx, msg)
			if err != nil {
				return fmt.Errorf("sending FCM to topic %s: %w", msg.Topic, err)
			}
			log.Printf("notify: FCM sent for order %s (%s), message_id=%s", p.OrderID, p.To, id)
			return nil
		})
	case events.LocationUpdated:
		if n.mirror == nil || p.OrderID == "" {
			return
		}
		path, entry := LocationEntry(p)
		n.enqueue(func(ctx context.Context) error {
			return n.mirror.Set(ctx, path, entry)
		})
	}
}

func (n *Notifier) enqueue(job func(context.Context) error) {
	select {
	case n.jobs <- job:
	default:
		log.Printf("notify: queue full, dropping update")
	}
}

// Run drains queued pushes until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-n.jobs:
			jobCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := job(jobCtx); err != nil {
				log.Printf("notify: %v", err)
			}
			cancel()
		}
	}
}

// OrderTopic is the FCM topic customer and courier apps subscribe to.
func OrderTopic(orderID types.ID) string {
	return "order_" + orderID.String()
}

var statusTitles = map[string]string{
	"accepted":   "Courier assigned",
	"rejected":   "Order rejected",
	"picked_up":  "Order picked up",
	"on_the_way": "Courier on the way",
	"delivered":  "Order delivered",
	"failed":     "Delivery failed",
}

// TransitionMessage builds the FCM data message for one transition.
func TransitionMessage(p events.OrderTransitioned) *messaging.Message {
	data := map[string]string{
		"type":     "order_status",
		"order_id": p.OrderID.String(),
		"from":     p.From,
		"status":   p.To,
		"at":       strconv.FormatInt(p.At.UnixMilli(), 10),
	}
	if p.CourierID != nil {
		data["courier_id"] = p.CourierID.String()
	}
	if p.Reason != "" {
		data["reason"] = p.Reason
	}
	title, ok := statusTitles[p.To]
	if !ok {
		title = "Order updated"
	}
	return &messaging.Message{
		Topic: OrderTopic(p.OrderID),
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  fmt.Sprintf("Order %s is now %s", p.OrderID, p.To),
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	}
}

type rtdbEntry struct {
	CourierID string  `json:"courier_id,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

// LocationEntry returns the RTDB path and value mirrored for an order sample.
func LocationEntry(p events.LocationUpdated) (string, any) {
	return locationsNode + "/" + p.OrderID.String(), rtdbEntry{
		CourierID: p.CourierID.String(),
		Lat:       p.Point.Lat,
		Lng:       p.Point.Lng,
		Timestamp: p.At.UnixMilli(),
	}
}
