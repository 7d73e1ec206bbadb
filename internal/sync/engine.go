// Package sync keeps the local conversation and message view in step with
// the messaging service: full catch-up passes plus live stream appends, with
// deduplication and display ordering.
package sync

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/store"
	"github.com/converse-im/converse/internal/stream"
)

// Error is a typed sync failure. The previously materialized view is always
// retained; stale-but-present beats empty.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options tune an engine instance.
type Options struct {
	// Consent is the allow-list applied to sync, list, and stream calls.
	Consent []messaging.ConsentState
	// PreviewWindow bounds how many recent messages are fetched per
	// conversation to compute the last-text preview.
	PreviewWindow int
	// Stream bounds retry behavior for the supervised streams.
	Stream stream.Config
}

// Engine materializes one session's conversations and messages. It borrows
// the client and must be discarded when the session closes; a session switch
// builds a fresh engine with an empty view.
type Engine struct {
	client   messaging.Client
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
	view     *View
	registry *stream.Registry
}

// NewEngine creates an engine for the given client. db may be nil to skip
// the local view cache.
func NewEngine(client messaging.Client, db *store.DB, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if len(opts.Consent) == 0 {
		opts.Consent = messaging.DefaultConsent
	}
	if opts.PreviewWindow <= 0 {
		opts.PreviewWindow = 32
	}
	return &Engine{
		client:   client,
		db:       db,
		bus:      b,
		logger:   logger,
		opts:     opts,
		view:     NewView(),
		registry: stream.NewRegistry(),
	}
}

// Conversations returns the materialized conversation list, newest preview
// first.
func (e *Engine) Conversations() []ConversationView {
	return e.view.Conversations()
}

// Messages returns the materialized message list for a conversation.
func (e *Engine) Messages(conversationID string) []messaging.Message {
	return e.view.Messages(conversationID)
}

// LastSeen returns the newest message observed on the global stream.
func (e *Engine) LastSeen() *messaging.Message {
	return e.view.LastSeen()
}

// LoadConversations performs a full catch-up pass: remote sync under the
// consent allow-list, list of all direct and group conversations, and a
// preview computed per conversation from a bounded recent window. The
// assembled view replaces the current one atomically. Idempotent; used for
// the initial load and for reconciliation after live events. On failure the
// prior view is kept.
func (e *Engine) LoadConversations(ctx context.Context) error {
	api := e.client.Conversations()

	if err := api.SyncAll(ctx, e.opts.Consent); err != nil {
		return e.fail("sync_all", err)
	}
	dms, err := api.ListDMs(ctx, e.opts.Consent)
	if err != nil {
		return e.fail("list_dms", err)
	}
	groups, err := api.ListGroups(ctx, e.opts.Consent)
	if err != nil {
		return e.fail("list_groups", err)
	}

	views := make([]*ConversationView, 0, len(dms)+len(groups))
	for _, conv := range append(dms, groups...) {
		cv, err := e.buildView(ctx, conv)
		if err != nil {
			return e.fail("build_view", err)
		}
		views = append(views, cv)
	}

	e.view.ReplaceConversations(views)
	e.persistConversations()

	e.logger.Info("conversation view refreshed", zap.Int("conversations", len(views)))
	e.bus.Emit(bus.KindViewRefreshed, len(views))
	return nil
}

// buildView assembles one row: membership plus a preview scanned from the
// newest end of a bounded message window. System items are skipped for the
// preview but stay in history.
func (e *Engine) buildView(ctx context.Context, conv messaging.Conversation) (*ConversationView, error) {
	members, err := conv.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", conv.ID(), err)
	}
	window, err := conv.Messages(ctx, e.opts.PreviewWindow)
	if err != nil {
		return nil, fmt.Errorf("recent messages of %s: %w", conv.ID(), err)
	}

	cv := &ConversationView{
		ID:          conv.ID(),
		Kind:        conv.Kind(),
		MemberCount: len(members),
		Handle:      conv,
	}
	if conv.Kind() == messaging.KindGroup {
		cv.Name = conv.Name()
		cv.Description = conv.Description()
		cv.ImageURL = conv.ImageURL()
	}
	for _, m := range members {
		cv.MemberIDs = append(cv.MemberIDs, m.InboxID)
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Content.IsText() {
			cv.LastText = truncate(window[i].Content.Text, 100)
			cv.LastTextAt = window[i].SentAtNS
			break
		}
	}
	return cv, nil
}

// LoadMessages synchronizes one conversation and replaces its materialized
// message list with the complete history.
func (e *Engine) LoadMessages(ctx context.Context, conversationID string) error {
	cv, ok := e.view.Get(conversationID)
	if !ok || cv.Handle == nil {
		return e.fail("load_messages", fmt.Errorf("conversation %s not synced", conversationID))
	}
	if err := cv.Handle.Sync(ctx); err != nil {
		return e.fail("conversation_sync", err)
	}
	msgs, err := cv.Handle.Messages(ctx, 0)
	if err != nil {
		return e.fail("message_history", err)
	}

	e.view.ReplaceMessages(conversationID, msgs)
	e.persistMessages(conversationID, msgs)

	e.bus.Emit(bus.KindMessageStored, map[string]any{
		"conversation_id": conversationID,
		"count":           len(msgs),
	})
	return nil
}

// SendText sends on a conversation. The local list is not optimistically
// mutated; the echo arrives through the message stream.
func (e *Engine) SendText(ctx context.Context, conversationID, text string) (string, error) {
	cv, ok := e.view.Get(conversationID)
	if !ok || cv.Handle == nil {
		return "", e.fail("send", fmt.Errorf("conversation %s not synced", conversationID))
	}
	msgID, err := cv.Handle.SendText(ctx, text)
	if err != nil {
		e.bus.Emit(bus.KindMessageFailed, map[string]string{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
		return "", e.fail("send", err)
	}
	e.bus.Emit(bus.KindMessageSent, map[string]string{
		"conversation_id": conversationID,
		"message_id":      msgID,
	})
	return msgID, nil
}

// CreateDM opens a direct conversation and reconciles the view.
func (e *Engine) CreateDM(ctx context.Context, inboxID string) (string, error) {
	conv, err := e.client.Conversations().NewDM(ctx, inboxID)
	if err != nil {
		return "", e.fail("create_dm", err)
	}
	if err := e.LoadConversations(ctx); err != nil {
		return conv.ID(), err
	}
	return conv.ID(), nil
}

// CreateGroup opens a group conversation and reconciles the view.
func (e *Engine) CreateGroup(ctx context.Context, inboxIDs []string, opts messaging.GroupOptions) (string, error) {
	conv, err := e.client.Conversations().NewGroup(ctx, inboxIDs, opts)
	if err != nil {
		return "", e.fail("create_group", err)
	}
	if err := e.LoadConversations(ctx); err != nil {
		return conv.ID(), err
	}
	return conv.ID(), nil
}

// CanMessage reports reachability per identifier.
func (e *Engine) CanMessage(ctx context.Context, ids []messaging.Identifier) (map[string]bool, error) {
	out, err := e.client.CanMessage(ctx, ids)
	if err != nil {
		return nil, e.fail("can_message", err)
	}
	return out, nil
}

// ResolveInbox resolves an identifier to an inbox id, "" when unregistered.
func (e *Engine) ResolveInbox(ctx context.Context, id messaging.Identifier) (string, error) {
	inboxID, err := e.client.InboxIDByIdentifier(ctx, id)
	if err != nil {
		return "", e.fail("resolve_inbox", err)
	}
	return inboxID, nil
}

// RestoreFromCache loads the persisted view so a restart shows the
// last-known-good state before the first catch-up pass. Restored rows carry
// no backing handle until LoadConversations runs.
func (e *Engine) RestoreFromCache() error {
	if e.db == nil {
		return nil
	}
	rows, err := e.db.ListConversations()
	if err != nil {
		return e.fail("restore_cache", err)
	}
	views := make([]*ConversationView, 0, len(rows))
	for _, r := range rows {
		views = append(views, &ConversationView{
			ID:          r.ID,
			Kind:        messaging.Kind(r.Kind),
			Name:        r.Name,
			Description: r.Description,
			ImageURL:    r.ImageURL,
			MemberCount: r.MemberCount,
			LastText:    r.LastText,
			LastTextAt:  r.LastTextAt,
		})
		msgs, err := e.db.ListMessages(r.ID)
		if err != nil {
			return e.fail("restore_cache", err)
		}
		restored := make([]messaging.Message, 0, len(msgs))
		for _, m := range msgs {
			restored = append(restored, cacheToMessage(m))
		}
		e.view.ReplaceMessages(r.ID, restored)
	}
	e.view.ReplaceConversations(views)
	return nil
}

func (e *Engine) fail(op string, err error) *Error {
	e.logger.Warn("sync failure", zap.String("op", op), zap.Error(err))
	return &Error{Op: op, Err: err}
}

// truncate shortens s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
