// README: Message store backed by PostgreSQL.
package chat

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"tabla/internal/types"
)

type Store interface {
	Insert(ctx context.Context, m *Message) error
	// Conversation returns every message exchanged between a and b in either direction.
	Conversation(ctx context.Context, a, b types.ID) ([]Message, error)
	// MarkRead flags unread messages addressed to recipientID as read. With a
	// non-empty senderID only that sender's messages are touched.
	MarkRead(ctx context.Context, recipientID types.ID, recipientType ParticipantType, senderID types.ID) (int64, error)
	Unread(ctx context.Context, recipientID types.ID, recipientType ParticipantType) (int64, error)
}

type PgStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Insert(ctx context.Context, m *Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, sender_id, sender_type, recipient_id, recipient_type, content, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, string(m.SenderID), string(m.SenderType), string(m.RecipientID), string(m.RecipientType),
		m.Content, m.Read, m.Timestamp,
	)
	return err
}

func (s *PgStore) Conversation(ctx context.Context, a, b types.ID) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, sender_id, sender_type, recipient_id, recipient_type, content, read, created_at
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at, id`, string(a), string(b))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderType, &m.RecipientID, &m.RecipientType, &m.Content, &m.Read, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PgStore) MarkRead(ctx context.Context, recipientID types.ID, recipientType ParticipantType, senderID types.ID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE recipient_id = $1 AND recipient_type = $2 AND NOT read
		  AND ($3 = '' OR sender_id = $3)`,
		string(recipientID), string(recipientType), string(senderID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) Unread(ctx context.Context, recipientID types.ID, recipientType ParticipantType) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE recipient_id = $1 AND recipient_type = $2 AND NOT read`,
		string(recipientID), string(recipientType)).Scan(&n)
	return n, err
}
