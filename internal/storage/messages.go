package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tribechat/internal/models"
)

// SaveMessage stores one message. Inserts are idempotent: a duplicate
// message_id is silently ignored, which is what makes the root peer echo and
// a later sync of the same room safe to apply together.
func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	const q = `
INSERT OR IGNORE INTO messages
(message_id, room_id, sender_id, msg_type, content, timestamp)
VALUES (?, ?, ?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, q,
		msg.MessageID,
		msg.RoomID,
		msg.SenderID,
		string(msg.MessageType),
		msg.Content,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns a single message by id, or ErrNoRows.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	const q = `
SELECT message_id, room_id, sender_id, msg_type, content, timestamp
FROM messages
WHERE message_id = ?
LIMIT 1;
`
	var (
		msg     models.Message
		sender  sql.NullString
		msgType string
	)
	err := s.db.QueryRowContext(ctx, q, messageID).Scan(
		&msg.MessageID,
		&msg.RoomID,
		&sender,
		&msgType,
		&msg.Content,
		&msg.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("select message: %w", err)
	}
	msg.SenderID = sender.String
	msg.MessageType = models.MessageType(msgType)
	return &msg, nil
}

// GetMessagesForRoom returns up to limit messages for a room in timestamp
// order, oldest first. limit <= 0 means no limit.
func (s *Store) GetMessagesForRoom(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	q := `
SELECT message_id, room_id, sender_id, msg_type, content, timestamp
FROM messages
WHERE room_id = ?
ORDER BY timestamp ASC`
	args := []any{roomID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	q += `;`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select room messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			msg     models.Message
			sender  sql.NullString
			msgType string
		)
		if err := rows.Scan(&msg.MessageID, &msg.RoomID, &sender, &msgType, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SenderID = sender.String
		msg.MessageType = models.MessageType(msgType)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMessage removes one message by id.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE message_id = ?;`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
