// README: Order service implements the delivery state machine; every transition is one unit of work.
package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"tabla/internal/events"
	"tabla/internal/modules/assignment"
	"tabla/internal/types"
)

const (
	ActorCourier = "delivery_person"
	ActorManager = "manager"
	ActorSystem  = "system"
)

type Emitter interface {
	Emit(events.Event)
}

type Service struct {
	store Store
	guard *assignment.Guard
	bus   Emitter
	now   func() time.Time
}

func NewService(store Store, guard *assignment.Guard, bus Emitter) *Service {
	if guard == nil {
		guard = assignment.NewGuard()
	}
	return &Service{store: store, guard: guard, bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

type CreateCommand struct {
	CustomerID      types.ID
	DeliveryAddress string
	Dropoff         *types.Point
	Items           []Item
	DeliveryFee     int64
	Currency        string
}

// TransitionCommand asks for one status change. ActorID is the delivery
// person issuing it; it is required for accept and, when set, must match the
// assignee for every later step.
type TransitionCommand struct {
	OrderID   types.ID
	Target    Status
	ActorID   types.ID
	ActorType string
	Reason    string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if strings.TrimSpace(cmd.DeliveryAddress) == "" {
		return nil, fmt.Errorf("%w: delivery address is required", ErrBadRequest)
	}
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrBadRequest)
	}
	if cmd.Dropoff != nil && !cmd.Dropoff.Valid() {
		return nil, fmt.Errorf("%w: invalid dropoff coordinates", ErrBadRequest)
	}
	currency := cmd.Currency
	if currency == "" {
		currency = "TWD"
	}
	var total int64
	for _, it := range cmd.Items {
		if it.Quantity <= 0 || it.Price < 0 || strings.TrimSpace(it.Name) == "" {
			return nil, fmt.Errorf("%w: invalid item %q", ErrBadRequest, it.Name)
		}
		if it.Price > 0 && int64(it.Quantity) > (math.MaxInt64-total)/it.Price {
			return nil, fmt.Errorf("%w: order total out of range", ErrBadRequest)
		}
		total += int64(it.Quantity) * it.Price
	}
	if cmd.DeliveryFee < 0 || cmd.DeliveryFee > math.MaxInt64-total {
		return nil, fmt.Errorf("%w: invalid delivery fee", ErrBadRequest)
	}
	total += cmd.DeliveryFee

	now := s.now()
	o := &Order{
		ID:              types.NewID(),
		Status:          StatusPending,
		CustomerID:      cmd.CustomerID,
		DeliveryAddress: strings.TrimSpace(cmd.DeliveryAddress),
		Dropoff:         cmd.Dropoff,
		Items:           cmd.Items,
		Total:           types.Money{Amount: total, Currency: currency},
		DeliveryFee:     types.Money{Amount: cmd.DeliveryFee, Currency: currency},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var actorID *types.ID
	if cmd.CustomerID != "" {
		actorID = &cmd.CustomerID
	}
	created := &Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  "customer",
		ActorID:    actorID,
		CreatedAt:  now,
	}
	if err := s.store.Create(ctx, o, created); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	if f.Status != "" {
		if _, ok := ParseStatus(string(f.Status)); !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, f.Status)
		}
	}
	return s.store.List(ctx, f)
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// ActiveForCourier returns the order the courier is currently delivering.
func (s *Service) ActiveForCourier(ctx context.Context, courierID types.ID) (*Order, error) {
	return s.store.ActiveForCourier(ctx, courierID)
}

// ActiveOrderID satisfies location.ActiveOrders.
func (s *Service) ActiveOrderID(ctx context.Context, courierID types.ID) (types.ID, bool, error) {
	o, err := s.store.ActiveForCourier(ctx, courierID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return o.ID, true, nil
}

// RecordLocation stores the latest device sample on the order. It is the only
// writer of currentLocation.
func (s *Service) RecordLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	return s.store.SetLocation(ctx, id, p, at)
}

// ApplyTransition validates and persists one status change. On any error the
// order and the courier are left exactly as they were. Re-applying the
// current status is a successful no-op.
func (s *Service) ApplyTransition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	target, ok := ParseStatus(string(cmd.Target))
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, cmd.Target)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if target == StatusFailed && utf8.RuneCountInString(reason) < MinFailureReasonLen {
		return nil, fmt.Errorf("%w: failure reason must be at least %d characters", ErrValidation, MinFailureReasonLen)
	}
	actorType := cmd.ActorType
	if actorType == "" {
		actorType = ActorCourier
		if cmd.ActorID == "" {
			actorType = ActorSystem
		}
	}

	var (
		result  *Order
		from    Status
		changed bool
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, uow UnitOfWork) error {
		o, err := uow.LockOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if o.Status == target {
			if err := checkRetry(o, cmd.ActorID); err != nil {
				return err
			}
			result = o
			return nil
		}
		if !CanTransition(o.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
		}

		now := s.now()
		switch target {
		case StatusAccepted:
			if cmd.ActorID == "" {
				return fmt.Errorf("%w: delivery person is required to accept", ErrBadRequest)
			}
			if err := s.guard.Reserve(ctx, uow, o.ID, cmd.ActorID); err != nil {
				return err
			}
			courierID := cmd.ActorID
			o.AssignedCourierID = &courierID
		case StatusPickedUp, StatusOnTheWay, StatusDelivered, StatusFailed:
			if cmd.ActorID != "" && !o.assignedTo(cmd.ActorID) {
				return ErrNotAssignee
			}
		}
		if target == StatusFailed {
			o.FailureReason = &reason
		}
		if (target == StatusDelivered || target == StatusFailed) && o.AssignedCourierID != nil {
			if err := s.guard.Release(ctx, uow, *o.AssignedCourierID); err != nil {
				return err
			}
		}

		from = o.Status
		version := o.StatusVersion
		o.Status = target
		o.UpdatedAt = now
		o.stamp(target, now)
		if err := uow.SaveTransition(ctx, o, version); err != nil {
			return err
		}

		var actorID *types.ID
		if cmd.ActorID != "" {
			id := cmd.ActorID
			actorID = &id
		}
		var eventReason *string
		if reason != "" {
			eventReason = &reason
		}
		if err := uow.AppendEvent(ctx, &Event{
			OrderID:    o.ID,
			FromStatus: from,
			ToStatus:   target,
			ActorType:  actorType,
			ActorID:    actorID,
			Reason:     eventReason,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		result = o
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.emitTransition(result, from, cmd.ActorID, reason)
	}
	return result, nil
}

// checkRetry decides whether a request for the status the order is already
// in is a harmless client retry.
func checkRetry(o *Order, actorID types.ID) error {
	if actorID == "" || o.AssignedCourierID == nil || o.assignedTo(actorID) {
		return nil
	}
	if o.Status == StatusAccepted {
		return fmt.Errorf("%w: order already accepted by another delivery person", ErrInvalidTransition)
	}
	return ErrNotAssignee
}

func (s *Service) emitTransition(o *Order, from Status, actorID types.ID, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(events.Event{
		Type: events.TypeOrderTransitioned,
		Payload: events.OrderTransitioned{
			OrderID:   o.ID,
			From:      string(from),
			To:        string(o.Status),
			CourierID: o.AssignedCourierID,
			ActorID:   actorID,
			Reason:    reason,
			At:        o.UpdatedAt,
		},
	})
}

func (s *Service) Accept(ctx context.Context, orderID, courierID types.ID) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: orderID, Target: StatusAccepted, ActorID: courierID})
}

func (s *Service) Reject(ctx context.Context, orderID, actorID types.ID, reason string) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: orderID, Target: StatusRejected, ActorID: actorID, ActorType: ActorManager, Reason: reason})
}

func (s *Service) PickUp(ctx context.Context, orderID, courierID types.ID) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: orderID, Target: StatusPickedUp, ActorID: courierID})
}

func (s *Service) Depart(ctx context.Context, orderID, courierID types.ID) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: orderID, Target: StatusOnTheWay, ActorID: courierID})
}

func (s *Service) Complete(ctx context.Context, orderID, courierID types.ID) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: orderID, Target: StatusDelivered, ActorID: courierID})
}

func (s *Service) Fail(ctx context.Context, orderID, courierID types.ID, reason string) (*Order, error) {
	return s.ApplyTransition(ctx, TransitionCommand{OrderID: orderID, Target: StatusFailed, ActorID: courierID, Reason: reason})
}
