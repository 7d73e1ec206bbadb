package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/stream"
)

// Stream keys. One live subscription per key; starting a new one for the
// same key stops the previous holder.
const (
	keyConversations = "conversations"
	keyAllMessages   = "all-messages"
	keyMessages      = "messages/"
)

// GlobalHandler observes items from the cross-conversation stream. The
// engine records the item as last-seen but does not route it into
// per-conversation state; that is the observer's job.
type GlobalHandler func(m messaging.Message, conversationID string)

// StartConversationStream supervises the all-conversations subscription.
// Every delivered item triggers a full catch-up pass; preview and membership
// fields need cross-referencing anyway, so reconciliation beats patching.
func (e *Engine) StartConversationStream(ctx context.Context) {
	sup := stream.NewSupervisor(keyConversations,
		func(ctx context.Context) (messaging.Stream[messaging.Conversation], error) {
			return e.client.Conversations().Stream(ctx)
		},
		func(messaging.Conversation) {
			if err := e.LoadConversations(ctx); err != nil {
				e.logger.Warn("stream-triggered reconciliation failed", zap.Error(err))
			}
		},
		e.opts.Stream, e.bus, e.logger)
	e.registry.Swap(keyConversations, sup)
	sup.Start(ctx)
}

// StartMessageStream supervises one conversation's message subscription.
// Items append at the position received, deduplicated by id.
func (e *Engine) StartMessageStream(ctx context.Context, conversationID string) error {
	cv, ok := e.view.Get(conversationID)
	if !ok || cv.Handle == nil {
		return e.fail("stream_messages", fmt.Errorf("conversation %s not synced", conversationID))
	}
	handle := cv.Handle

	sup := stream.NewSupervisor(keyMessages+conversationID,
		func(ctx context.Context) (messaging.Stream[messaging.Message], error) {
			return handle.Stream(ctx)
		},
		func(m messaging.Message) {
			if !e.view.AppendMessage(m) {
				return
			}
			e.persistAppend(m)
			e.bus.Emit(bus.KindMessageStored, map[string]any{
				"conversation_id": m.ConversationID,
				"message_id":      m.ID,
			})
		},
		e.opts.Stream, e.bus, e.logger)
	e.registry.Swap(keyMessages+conversationID, sup)
	sup.Start(ctx)
	return nil
}

// StopMessageStream stops the subscription for a deselected conversation.
func (e *Engine) StopMessageStream(conversationID string) {
	e.registry.Stop(keyMessages + conversationID)
}

// StartAllMessagesStream supervises the cross-conversation subscription and
// forwards each item to the observer callback registered here.
func (e *Engine) StartAllMessagesStream(ctx context.Context, observer GlobalHandler) {
	sup := stream.NewSupervisor(keyAllMessages,
		func(ctx context.Context) (messaging.Stream[messaging.Message], error) {
			return e.client.Conversations().StreamAllMessages(ctx, e.opts.Consent)
		},
		func(m messaging.Message) {
			e.view.SetLastSeen(m)
			if observer != nil {
				observer(m, m.ConversationID)
			}
		},
		e.opts.Stream, e.bus, e.logger)
	e.registry.Swap(keyAllMessages, sup)
	sup.Start(ctx)
}

// StopStreams stops every supervised subscription. Must run before the
// session client is handed back for closing.
func (e *Engine) StopStreams() {
	e.registry.StopAll()
}
