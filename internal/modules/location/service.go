// README: Location service: validates device samples, keeps last-known positions and fans them out to rooms.
package location

import (
	"context"
	"fmt"
	"log"
	"time"

	"tabla/internal/events"
	"tabla/internal/realtime"
	"tabla/internal/types"
)

const EnvelopeLocation = "location"

// OrderRecorder mirrors a sample onto the order's currentLocation.
type OrderRecorder interface {
	RecordLocation(ctx context.Context, orderID types.ID, p types.Point, at time.Time) error
}

// CourierRecorder mirrors a heartbeat onto the courier record.
type CourierRecorder interface {
	RecordLocation(ctx context.Context, courierID types.ID, p types.Point, at time.Time) error
}

// ActiveOrders resolves the order a courier is currently delivering, if any.
type ActiveOrders interface {
	ActiveOrderID(ctx context.Context, courierID types.ID) (types.ID, bool, error)
}

type Emitter interface {
	Emit(events.Event)
}

type Service struct {
	store      Store
	fanout     realtime.Fanout
	bus        Emitter
	orders     OrderRecorder
	couriers   CourierRecorder
	active     ActiveOrders
	staleAfter time.Duration
	now        func() time.Time
}

type Options struct {
	Orders     OrderRecorder
	Couriers   CourierRecorder
	Active     ActiveOrders
	Bus        Emitter
	StaleAfter time.Duration
}

func NewService(store Store, fanout realtime.Fanout, opts Options) *Service {
	stale := opts.StaleAfter
	if stale <= 0 {
		stale = 30 * time.Second
	}
	return &Service{
		store:      store,
		fanout:     fanout,
		bus:        opts.Bus,
		orders:     opts.Orders,
		couriers:   opts.Couriers,
		active:     opts.Active,
		staleAfter: stale,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PublishOrderLocation overwrites the order's last-known location and pushes
// the sample to everyone in the order room.
func (s *Service) PublishOrderLocation(ctx context.Context, orderID types.ID, lat, lng float64) (Sample, error) {
	if orderID == "" {
		return Sample{}, fmt.Errorf("%w: order id is required", ErrInvalidLocation)
	}
	p := types.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Sample{}, fmt.Errorf("%w: %.6f,%.6f out of range", ErrInvalidLocation, lat, lng)
	}
	smp := Sample{OrderID: orderID, Lat: lat, Lng: lng, Timestamp: s.now()}
	if err := s.publishOrder(ctx, smp, ""); err != nil {
		return smp, err
	}
	return smp, nil
}

// PublishCourierLocation records a courier heartbeat. When the courier has an
// active order the same sample is also published into that order's room.
func (s *Service) PublishCourierLocation(ctx context.Context, courierID types.ID, lat, lng float64) (Sample, error) {
	if courierID == "" {
		return Sample{}, fmt.Errorf("%w: courier id is required", ErrInvalidLocation)
	}
	p := types.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Sample{}, fmt.Errorf("%w: %.6f,%.6f out of range", ErrInvalidLocation, lat, lng)
	}
	smp := Sample{CourierID: courierID, Lat: lat, Lng: lng, Timestamp: s.now()}
	if s.couriers != nil {
		if err := s.couriers.RecordLocation(ctx, courierID, p, smp.Timestamp); err != nil {
			return smp, err
		}
	}
	if err := s.store.SetCourierSample(ctx, smp); err != nil {
		return smp, err
	}
	s.emit(smp)
	transportErr := s.broadcast(ctx, realtime.CourierTopic(courierID), smp)

	if s.active != nil {
		orderID, ok, err := s.active.ActiveOrderID(ctx, courierID)
		if err != nil {
			return smp, err
		}
		if ok {
			orderSmp := smp
			orderSmp.OrderID = orderID
			if err := s.publishOrder(ctx, orderSmp, courierID); err != nil {
				return smp, err
			}
		}
	}
	return smp, transportErr
}

func (s *Service) publishOrder(ctx context.Context, smp Sample, courierID types.ID) error {
	smp.CourierID = courierID
	if s.orders != nil {
		if err := s.orders.RecordLocation(ctx, smp.OrderID, smp.Point(), smp.Timestamp); err != nil {
			return err
		}
	}
	if err := s.store.SetOrderSample(ctx, smp); err != nil {
		return err
	}
	s.emit(smp)
	return s.broadcast(ctx, realtime.OrderTopic(smp.OrderID), smp)
}

func (s *Service) broadcast(ctx context.Context, topic realtime.Topic, smp Sample) error {
	if s.fanout == nil {
		return nil
	}
	env, err := realtime.NewEnvelope(EnvelopeLocation, topic, smp)
	if err != nil {
		return err
	}
	if err := s.fanout.Broadcast(ctx, topic, env); err != nil {
		log.Printf("location: broadcast to %s failed: %v", topic, err)
		return fmt.Errorf("%w: %v", realtime.ErrTransport, err)
	}
	return nil
}

func (s *Service) emit(smp Sample) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(events.Event{
		Type: events.TypeLocationUpdated,
		Payload: events.LocationUpdated{
			OrderID:   smp.OrderID,
			CourierID: smp.CourierID,
			Point:     smp.Point(),
			At:        smp.Timestamp,
		},
	})
}

func (s *Service) OrderLocation(ctx context.Context, orderID types.ID) (View, error) {
	smp, ok, err := s.store.OrderSample(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	if !ok {
		return View{}, ErrNoLocation
	}
	return s.view(smp), nil
}

func (s *Service) CourierLocation(ctx context.Context, courierID types.ID) (View, error) {
	smp, ok, err := s.store.CourierSample(ctx, courierID)
	if err != nil {
		return View{}, err
	}
	if !ok {
		return View{}, ErrNoLocation
	}
	return s.view(smp), nil
}

func (s *Service) view(smp Sample) View {
	age := s.now().Sub(smp.Timestamp)
	if age < 0 {
		age = 0
	}
	return View{Sample: smp, Stale: age > s.staleAfter, Age: age}
}

// NearbyCouriers satisfies the courier package's Locator.
func (s *Service) NearbyCouriers(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]NearbyCourier, error) {
	return s.store.NearbyCouriers(ctx, center, radiusKm, limit)
}
