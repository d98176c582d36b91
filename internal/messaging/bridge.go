// README: Broker bridges: transition export and device location ingest.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tabla/internal/events"
	"tabla/internal/modules/location"
	"tabla/internal/types"
)

// Envelope is the wire format for exported events.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

func EncodeEvent(evt events.Event) ([]byte, string, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode %s payload: %w", evt.Type, err)
	}
	data, err := json.Marshal(Envelope{Type: string(evt.Type), Timestamp: evt.Timestamp.UTC(), Payload: payload})
	if err != nil {
		return nil, "", err
	}
	var key string
	if p, ok := evt.Payload.(events.OrderTransitioned); ok {
		key = p.OrderID.String()
	}
	return data, key, nil
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type outbound struct {
	key  string
	data []byte
}

// Exporter forwards committed order transitions to the broker. Emit never
// blocks the caller: when the queue is full the event is dropped and logged.
type Exporter struct {
	pub     Publisher
	topic   string
	queue   chan outbound
	timeout time.Duration
}

func NewExporter(pub Publisher, topic string, buffer int) *Exporter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Exporter{pub: pub, topic: topic, queue: make(chan outbound, buffer), timeout: 5 * time.Second}
}

func (e *Exporter) Attach(bus *events.Bus) events.SubscriberID {
	return bus.SubscribeTypes(e.enqueue, events.TypeOrderTransitioned)
}

func (e *Exporter) enqueue(evt events.Event) {
	data, key, err := EncodeEvent(evt)
	if err != nil {
		log.Printf("messaging: %v", err)
		return
	}
	select {
	case e.queue <- outbound{key: key, data: data}:
	default:
		log.Printf("messaging: export queue full, dropping %s for %s", evt.Type, key)
	}
}

// Run publishes queued events until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-e.queue:
			pubCtx, cancel := context.WithTimeout(ctx, e.timeout)
			err := e.pub.Publish(pubCtx, e.topic, msg.key, msg.data)
			cancel()
			if err != nil {
				log.Printf("messaging: publish to %s failed: %v", e.topic, err)
			}
		}
	}
}

// DeviceLocation is what courier devices send over the broker.
type DeviceLocation struct {
	CourierID string  `json:"courier_id"`
	OrderID   string  `json:"order_id,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

var errNoSubject = errors.New("device location needs courier_id or order_id")

func DecodeDeviceLocation(payload []byte) (DeviceLocation, error) {
	var d DeviceLocation
	if err := json.Unmarshal(payload, &d); err != nil {
		return d, fmt.Errorf("decode device location: %w", err)
	}
	if d.CourierID == "" && d.OrderID == "" {
		return d, errNoSubject
	}
	return d, nil
}

type LocationPublisher interface {
	PublishOrderLocation(ctx context.Context, orderID types.ID, lat, lng float64) (location.Sample, error)
	PublishCourierLocation(ctx context.Context, courierID types.ID, lat, lng float64) (location.Sample, error)
}

// LocationIngest feeds broker telemetry into the location channel.
type LocationIngest struct {
	sink    LocationPublisher
	timeout time.Duration
}

func NewLocationIngest(sink LocationPublisher) *LocationIngest {
	return &LocationIngest{sink: sink, timeout: 5 * time.Second}
}

func (i *LocationIngest) Handle(payload []byte) {
	if err := i.handle(context.Background(), payload); err != nil {
		log.Printf("messaging: location ingest: %v", err)
	}
}

func (i *LocationIngest) handle(ctx context.Context, payload []byte) error {
	d, err := DecodeDeviceLocation(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	if d.CourierID != "" {
		_, err = i.sink.PublishCourierLocation(ctx, types.ID(d.CourierID), d.Lat, d.Lng)
		return err
	}
	_, err = i.sink.PublishOrderLocation(ctx, types.ID(d.OrderID), d.Lat, d.Lng)
	return err
}
