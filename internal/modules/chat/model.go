// README: Chat messages between managers and delivery persons.
package chat

import (
	"errors"
	"sort"
	"time"

	"tabla/internal/types"
)

type ParticipantType string

const (
	ParticipantManager        ParticipantType = "manager"
	ParticipantDeliveryPerson ParticipantType = "deliveryPerson"
	ParticipantCustomer       ParticipantType = "customer"
)

func (p ParticipantType) Valid() bool {
	switch p {
	case ParticipantManager, ParticipantDeliveryPerson, ParticipantCustomer:
		return true
	}
	return false
}

// MaxContentLen is counted in characters.
const MaxContentLen = 2000

var (
	ErrValidation = errors.New("invalid message")
	ErrNotFound   = errors.New("message not found")
)

type Message struct {
	ID            string          `json:"id"`
	SenderID      types.ID        `json:"sender_id"`
	SenderType    ParticipantType `json:"sender_type"`
	RecipientID   types.ID        `json:"recipient_id"`
	RecipientType ParticipantType `json:"recipient_type"`
	Content       string          `json:"content"`
	Read          bool            `json:"read"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Sort orders messages by server timestamp, then by id.
func Sort(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Merge combines a locally held list with a freshly fetched one. Fetched
// copies win on id collisions so read flags stay current.
func Merge(local, fetched []Message) []Message {
	byID := make(map[string]int, len(local)+len(fetched))
	out := make([]Message, 0, len(local)+len(fetched))
	for _, m := range local {
		if _, ok := byID[m.ID]; ok {
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range fetched {
		if i, ok := byID[m.ID]; ok {
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	Sort(out)
	return out
}
