// README: Order aggregate, status definitions and the transition table.
package order

import (
	"errors"
	"time"

	"tabla/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusPickedUp  Status = "picked_up"
	StatusOnTheWay  Status = "on_the_way"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// MinFailureReasonLen is counted in characters after trimming whitespace.
const MinFailureReasonLen = 10

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order state conflict")
	ErrValidation        = errors.New("validation failed")
	ErrNotAssignee       = errors.New("order is assigned to another delivery person")
	ErrBadRequest        = errors.New("bad request")
)

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusPending, StatusAccepted, StatusRejected, StatusPickedUp,
		StatusOnTheWay, StatusDelivered, StatusFailed:
		return st, true
	}
	return "", false
}

// Active reports whether a courier bound to an order in this status is busy with it.
func (s Status) Active() bool {
	return s == StatusAccepted || s == StatusPickedUp || s == StatusOnTheWay
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusRejected
}

var activeStatuses = []Status{StatusAccepted, StatusPickedUp, StatusOnTheWay}

type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type Order struct {
	ID                types.ID     `json:"id"`
	Status            Status       `json:"status"`
	StatusVersion     int          `json:"status_version"`
	AssignedCourierID *types.ID    `json:"assigned_courier_id,omitempty"`
	CurrentLocation   *types.Point `json:"current_location,omitempty"`
	LocationAt        *time.Time   `json:"location_at,omitempty"`
	CustomerID        types.ID     `json:"customer_id,omitempty"`
	DeliveryAddress   string       `json:"delivery_address"`
	Dropoff           *types.Point `json:"dropoff,omitempty"`
	Items             []Item       `json:"items"`
	Total             types.Money  `json:"total"`
	DeliveryFee       types.Money  `json:"delivery_fee"`
	FailureReason     *string      `json:"failure_reason,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	AcceptedAt        *time.Time   `json:"accepted_at,omitempty"`
	RejectedAt        *time.Time   `json:"rejected_at,omitempty"`
	PickedUpAt        *time.Time   `json:"picked_up_at,omitempty"`
	DepartedAt        *time.Time   `json:"departed_at,omitempty"`
	DeliveredAt       *time.Time   `json:"delivered_at,omitempty"`
	FailedAt          *time.Time   `json:"failed_at,omitempty"`
}

func (o *Order) assignedTo(id types.ID) bool {
	return o.AssignedCourierID != nil && *o.AssignedCourierID == id
}

func (o *Order) stamp(to Status, at time.Time) {
	t := at
	switch to {
	case StatusAccepted:
		o.AcceptedAt = &t
	case StatusRejected:
		o.RejectedAt = &t
	case StatusPickedUp:
		o.PickedUpAt = &t
	case StatusOnTheWay:
		o.DepartedAt = &t
	case StatusDelivered:
		o.DeliveredAt = &t
	case StatusFailed:
		o.FailedAt = &t
	}
}

type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"order_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorType  string    `json:"actor_type"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	Reason     *string   `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected},
	StatusAccepted: {StatusPickedUp},
	StatusPickedUp: {StatusOnTheWay},
	StatusOnTheWay: {StatusDelivered, StatusFailed},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
