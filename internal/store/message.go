package store

import (
	"fmt"
	"time"
)

// AppendMessage inserts a message at the next position for its conversation.
// Idempotent on (conversation_id, message_id): a duplicate id is ignored.
func (db *DB) AppendMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, message_id, sender_inbox_id, content_kind, body, sent_at_ns, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE conversation_id = ?), ?)
		ON CONFLICT(conversation_id, message_id) DO NOTHING`,
		m.ConversationID, m.MessageID, m.SenderInboxID, m.ContentKind, m.Body, m.SentAtNS, m.ConversationID, now)
	return err
}

// ReplaceMessages swaps a conversation's cached message list in one
// transaction, assigning positions in slice order.
func (db *DB) ReplaceMessages(conversationID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := time.Now().UnixMilli()
	for i, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, message_id, sender_inbox_id, content_kind, body, sent_at_ns, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, message_id) DO NOTHING`,
			conversationID, m.MessageID, m.SenderInboxID, m.ContentKind, m.Body, m.SentAtNS, i, now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// ListMessages returns a conversation's cached messages in arrival order.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, message_id, sender_inbox_id, content_kind, body, sent_at_ns, position
		FROM messages
		WHERE conversation_id = ?
		ORDER BY position`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ConversationID, &m.MessageID, &m.SenderInboxID, &m.ContentKind, &m.Body, &m.SentAtNS, &m.Position); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
