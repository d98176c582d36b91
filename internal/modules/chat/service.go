// README: Message relay: stores messages with a monotonic server clock and pushes them to the conversation room.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tabla/internal/events"
	"tabla/internal/realtime"
	"tabla/internal/types"
)

const EnvelopeMessage = "message"

type Emitter interface {
	Emit(events.Event)
}

type Service struct {
	store     Store
	fanout    realtime.Fanout
	bus       Emitter
	supportID types.ID
	clock     *clock
}

// NewService wires the relay. supportID is the manager identity used when a
// delivery person addresses "support" without naming a manager.
func NewService(store Store, fanout realtime.Fanout, bus Emitter, supportID types.ID) *Service {
	return &Service{
		store:     store,
		fanout:    fanout,
		bus:       bus,
		supportID: supportID,
		clock:     &clock{now: time.Now},
	}
}

type SendCommand struct {
	SenderID      types.ID
	SenderType    ParticipantType
	RecipientID   types.ID
	RecipientType ParticipantType
	Content       string
}

func (s *Service) Send(ctx context.Context, cmd SendCommand) (*Message, error) {
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLen {
		return nil, fmt.Errorf("%w: content longer than %d characters", ErrValidation, MaxContentLen)
	}
	if !cmd.SenderType.Valid() || !cmd.RecipientType.Valid() {
		return nil, fmt.Errorf("%w: unknown participant type", ErrValidation)
	}
	if cmd.SenderID == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrValidation)
	}
	recipient := cmd.RecipientID
	if recipient == "" && cmd.RecipientType == ParticipantManager {
		recipient = s.supportID
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if recipient == cmd.SenderID {
		return nil, fmt.Errorf("%w: sender and recipient are the same", ErrValidation)
	}

	m := &Message{
		ID:            uuid.NewString(),
		SenderID:      cmd.SenderID,
		SenderType:    cmd.SenderType,
		RecipientID:   recipient,
		RecipientType: cmd.RecipientType,
		Content:       content,
		Timestamp:     s.clock.next(),
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, err
	}

	s.push(ctx, m)
	if s.bus != nil {
		s.bus.Emit(events.Event{
			Type: events.TypeMessageSent,
			Payload: events.MessageSent{
				MessageID:     m.ID,
				SenderID:      m.SenderID,
				SenderType:    string(m.SenderType),
				RecipientID:   m.RecipientID,
				RecipientType: string(m.RecipientType),
				At:            m.Timestamp,
			},
		})
	}
	return m, nil
}

// push is best effort: polling clients still pick the message up.
func (s *Service) push(ctx context.Context, m *Message) {
	if s.fanout == nil {
		return
	}
	topic, ok := conversationTopic(m)
	if !ok {
		return
	}
	env, err := realtime.NewEnvelope(EnvelopeMessage, topic, m)
	if err != nil {
		log.Printf("chat: %v", err)
		return
	}
	if err := s.fanout.Broadcast(ctx, topic, env); err != nil {
		log.Printf("chat: push %s to %s failed: %v", m.ID, topic, err)
	}
}

func conversationTopic(m *Message) (realtime.Topic, bool) {
	switch {
	case m.SenderType == ParticipantManager && m.RecipientType == ParticipantDeliveryPerson:
		return realtime.ConversationTopic(m.SenderID, m.RecipientID), true
	case m.SenderType == ParticipantDeliveryPerson && m.RecipientType == ParticipantManager:
		return realtime.ConversationTopic(m.RecipientID, m.SenderID), true
	}
	return "", false
}

// FetchConversation returns every message between the pair, oldest first.
func (s *Service) FetchConversation(ctx context.Context, managerID, personID types.ID) ([]Message, error) {
	if managerID == "" {
		managerID = s.supportID
	}
	if personID == "" {
		return nil, fmt.Errorf("%w: delivery person is required", ErrValidation)
	}
	msgs, err := s.store.Conversation(ctx, managerID, personID)
	if err != nil {
		return nil, err
	}
	Sort(msgs)
	return msgs, nil
}

// MarkRead flips read on unread messages addressed to userID and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, userID, senderID types.ID, recipientType ParticipantType) (int64, error) {
	if userID == "" || !recipientType.Valid() {
		return 0, fmt.Errorf("%w: user and recipient type are required", ErrValidation)
	}
	return s.store.MarkRead(ctx, userID, recipientType, senderID)
}

func (s *Service) UnreadCount(ctx context.Context, userID types.ID, recipientType ParticipantType) (int64, error) {
	if userID == "" || !recipientType.Valid() {
		return 0, fmt.Errorf("%w: user and recipient type are required", ErrValidation)
	}
	return s.store.Unread(ctx, userID, recipientType)
}

func (s *Service) SupportID() types.ID { return s.supportID }

// clock hands out strictly increasing timestamps at microsecond resolution,
// which is what Postgres keeps.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
