package store

import (
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a single conversation row.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, kind, name, description, image_url, member_count, last_text, last_text_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			description = excluded.description,
			image_url = excluded.image_url,
			member_count = excluded.member_count,
			last_text = excluded.last_text,
			last_text_at = excluded.last_text_at,
			updated_at = excluded.updated_at`,
		c.ID, c.Kind, c.Name, c.Description, c.ImageURL, c.MemberCount, c.LastText, c.LastTextAt, now)
	return err
}

// ReplaceConversations swaps the whole cached conversation set in one
// transaction, preserving the given order.
func (db *DB) ReplaceConversations(convs []Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range convs {
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, kind, name, description, image_url, member_count, last_text, last_text_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Kind, c.Name, c.Description, c.ImageURL, c.MemberCount, c.LastText, c.LastTextAt, now); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
	}

	return tx.Commit()
}

// ListConversations returns cached conversations newest-preview first, with
// conversations lacking a text preview last. rowid keeps the stored order
// stable among ties.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT id, kind, name, description, image_url, member_count, last_text, last_text_at
		FROM conversations
		ORDER BY CASE WHEN last_text_at = 0 THEN 1 ELSE 0 END, last_text_at DESC, rowid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.Description, &c.ImageURL, &c.MemberCount, &c.LastText, &c.LastTextAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
