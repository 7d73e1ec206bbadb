// Package messaging defines the boundary to the messaging-service client.
// The wire protocol and cryptographic scheme behind it are out of scope;
// the engine consumes these capabilities opaquely. The loopback sub-package
// provides an in-memory implementation.
package messaging

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Stream.Next after the stream has been
// closed, either by the consumer or by session teardown.
var ErrStreamClosed = errors.New("messaging: stream closed")

// Stream is a cancellable sequence of items delivered by the service.
type Stream[T any] interface {
	// Next blocks until an item arrives, the context is done, or the
	// stream is closed (ErrStreamClosed).
	Next(ctx context.Context) (T, error)
	// Close ends the subscription. Closing an already-closed stream, or a
	// stream whose parent client is gone, returns an error the caller is
	// expected to tolerate.
	Close() error
}

// Client is one authenticated connection to the messaging service. It owns
// the lock on its local persistent store; at most one client per store path
// may exist at a time.
type Client interface {
	InboxID() string
	Conversations() ConversationsAPI
	// CanMessage reports reachability for each identifier value.
	CanMessage(ctx context.Context, ids []Identifier) (map[string]bool, error)
	// InboxIDByIdentifier resolves an identifier to an inbox id, or ""
	// when the identifier is not registered.
	InboxIDByIdentifier(ctx context.Context, id Identifier) (string, error)
	// Close releases the client and its store lock.
	Close() error
}

// ConversationsAPI is the conversation-set surface of a client.
type ConversationsAPI interface {
	// SyncAll pulls remote state for all conversations in the given
	// consent states.
	SyncAll(ctx context.Context, consent []ConsentState) error
	ListDMs(ctx context.Context, consent []ConsentState) ([]Conversation, error)
	ListGroups(ctx context.Context, consent []ConsentState) ([]Conversation, error)
	NewDM(ctx context.Context, inboxID string) (Conversation, error)
	NewGroup(ctx context.Context, inboxIDs []string, opts GroupOptions) (Conversation, error)
	// Stream delivers every conversation added or updated after the call.
	Stream(ctx context.Context) (Stream[Conversation], error)
	// StreamAllMessages delivers messages across all conversations in the
	// given consent states.
	StreamAllMessages(ctx context.Context, consent []ConsentState) (Stream[Message], error)
}

// Conversation is a handle to one direct or group thread. Metadata getters
// reflect the handle's last-synced state; Update* mutate the remote group
// and the handle is the source of truth on next read.
type Conversation interface {
	ID() string
	Kind() Kind
	Name() string
	Description() string
	ImageURL() string

	Sync(ctx context.Context) error
	// Messages returns history oldest-first. limit <= 0 means the full
	// history; otherwise the most recent limit messages.
	Messages(ctx context.Context, limit int) ([]Message, error)
	Members(ctx context.Context) ([]Member, error)
	// SendText sends a text payload and returns the assigned message id.
	SendText(ctx context.Context, text string) (string, error)
	Stream(ctx context.Context) (Stream[Message], error)

	AddMembers(ctx context.Context, inboxIDs []string) error
	RemoveMembers(ctx context.Context, inboxIDs []string) error
	UpdateName(ctx context.Context, name string) error
	UpdateDescription(ctx context.Context, description string) error
	UpdateImageURL(ctx context.Context, url string) error
	IsAdmin(ctx context.Context, inboxID string) (bool, error)
	IsSuperAdmin(ctx context.Context, inboxID string) (bool, error)
}
