package sync

import (
	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/store"
)

// Persistence is best-effort: a cache write failing never fails the pass
// that produced the in-memory view.

func (e *Engine) persistConversations() {
	if e.db == nil {
		return
	}
	views := e.view.Conversations()
	rows := make([]store.Conversation, 0, len(views))
	for _, cv := range views {
		rows = append(rows, store.Conversation{
			ID:          cv.ID,
			Kind:        string(cv.Kind),
			Name:        cv.Name,
			Description: cv.Description,
			ImageURL:    cv.ImageURL,
			MemberCount: cv.MemberCount,
			LastText:    cv.LastText,
			LastTextAt:  cv.LastTextAt,
		})
	}
	if err := e.db.ReplaceConversations(rows); err != nil {
		e.logger.Warn("cache conversations", zap.Error(err))
	}
}

func (e *Engine) persistMessages(conversationID string, msgs []messaging.Message) {
	if e.db == nil {
		return
	}
	rows := make([]store.Message, 0, len(msgs))
	for i, m := range msgs {
		row := messageToCache(m)
		row.Position = i
		rows = append(rows, row)
	}
	if err := e.db.ReplaceMessages(conversationID, rows); err != nil {
		e.logger.Warn("cache messages",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (e *Engine) persistAppend(m messaging.Message) {
	if e.db == nil {
		return
	}
	row := messageToCache(m)
	if err := e.db.AppendMessage(&row); err != nil {
		e.logger.Warn("cache message append",
			zap.String("message_id", m.ID), zap.Error(err))
	}
}

func messageToCache(m messaging.Message) store.Message {
	row := store.Message{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		SenderInboxID:  m.SenderInboxID,
		ContentKind:    string(m.Content.Kind),
		SentAtNS:       m.SentAtNS,
	}
	if m.Content.IsText() {
		row.Body = m.Content.Text
	} else if m.Content.Event != nil {
		row.Body = m.Content.Event.Kind
	}
	return row
}

func cacheToMessage(r store.Message) messaging.Message {
	m := messaging.Message{
		ID:             r.MessageID,
		ConversationID: r.ConversationID,
		SenderInboxID:  r.SenderInboxID,
		SentAtNS:       r.SentAtNS,
	}
	if r.ContentKind == string(messaging.ContentText) {
		m.Content = messaging.TextContent(r.Body)
	} else {
		m.Content = messaging.SystemContent(r.Body, nil)
	}
	return m
}
