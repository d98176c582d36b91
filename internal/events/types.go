// README: Event types and payloads carried on the bus.
package events

import (
	"time"

	"tabla/internal/types"
)

type Type string

const (
	TypeOrderTransitioned Type = "order.transitioned"
	TypeLocationUpdated   Type = "location.updated"
	TypeMessageSent       Type = "message.sent"
)

type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   any
}

// OrderTransitioned is emitted after a status change has been committed.
type OrderTransitioned struct {
	OrderID   types.ID  `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	CourierID *types.ID `json:"courier_id,omitempty"`
	ActorID   types.ID  `json:"actor_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// LocationUpdated is emitted for every accepted location sample. OrderID is
// empty for courier-level heartbeats.
type LocationUpdated struct {
	OrderID   types.ID    `json:"order_id,omitempty"`
	CourierID types.ID    `json:"courier_id,omitempty"`
	Point     types.Point `json:"point"`
	At        time.Time   `json:"at"`
}

type MessageSent struct {
	MessageID     string    `json:"message_id"`
	SenderID      types.ID  `json:"sender_id"`
	SenderType    string    `json:"sender_type"`
	RecipientID   types.ID  `json:"recipient_id"`
	RecipientType string    `json:"recipient_type"`
	At            time.Time `json:"at"`
}
