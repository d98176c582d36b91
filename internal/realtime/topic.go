// README: Room topics and the envelope pushed to room members.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"tabla/internal/types"
)

// Topic names a room. Clients join rooms; publishers broadcast into them.
type Topic string

func OrderTopic(orderID types.ID) Topic {
	return Topic("order:" + orderID.String())
}

func CourierTopic(courierID types.ID) Topic {
	return Topic("courier:" + courierID.String())
}

// ConversationTopic is the room shared by a manager and one delivery person.
func ConversationTopic(managerID, personID types.ID) Topic {
	return Topic(fmt.Sprintf("conversation:%s:%s", managerID, personID))
}

// Envelope is the frame pushed to every room member.
type Envelope struct {
	Type  string          `json:"type"`
	Topic Topic           `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(kind string, topic Topic, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: marshal %s payload: %w", kind, err)
	}
	return Envelope{Type: kind, Topic: topic, Data: data}, nil
}

// ErrTransport wraps failures of the live channel or a broker. Persisted
// state is already committed when it is returned; callers may retry.
var ErrTransport = errors.New("transport failure")
