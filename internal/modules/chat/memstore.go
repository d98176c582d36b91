// README: In-memory message store.
package chat

import (
	"context"
	"sync"

	"tabla/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *MemoryStore) Conversation(_ context.Context, a, b types.ID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a) {
			out = append(out, m)
		}
	}
	Sort(out)
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, recipientID types.ID, recipientType ParticipantType, senderID types.ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.Read || m.RecipientID != recipientID || m.RecipientType != recipientType {
			continue
		}
		if senderID != "" && m.SenderID != senderID {
			continue
		}
		m.Read = true
		n++
	}
	return n, nil
}

func (s *MemoryStore) Unread(_ context.Context, recipientID types.ID, recipientType ParticipantType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if !m.Read && m.RecipientID == recipientID && m.RecipientType == recipientType {
			n++
		}
	}
	return n, nil
}
