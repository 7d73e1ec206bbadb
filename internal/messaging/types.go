package messaging

// ConsentState classifies a conversation by the user's consent.
type ConsentState string

const (
	ConsentAllowed ConsentState = "allowed"
	ConsentUnknown ConsentState = "unknown"
	ConsentDenied  ConsentState = "denied"
)

// DefaultConsent is the allow-list used for syncing and streaming:
// everything the user has not denied.
var DefaultConsent = []ConsentState{ConsentAllowed, ConsentUnknown}

// Kind distinguishes direct and group conversations.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// IdentifierKind is the namespace of a member-linked identifier.
type IdentifierKind string

const (
	// IdentifierEthereum is the addressable kind: a lower-cased 0x address.
	IdentifierEthereum IdentifierKind = "ethereum"
	// IdentifierPasskey is a non-addressable credential identifier.
	IdentifierPasskey IdentifierKind = "passkey"
)

// Identifier is an external identity linked to an inbox.
type Identifier struct {
	Kind  IdentifierKind
	Value string
}

// Member is a conversation participant as reported by the service.
type Member struct {
	InboxID     string
	Identifiers []Identifier
}

// GroupOptions are the optional metadata fields for group creation.
type GroupOptions struct {
	Name        string
	Description string
	ImageURL    string
}

// Message is a single conversation item. Immutable once observed.
type Message struct {
	ID             string
	ConversationID string
	SenderInboxID  string
	Content        Content
	SentAtNS       int64
}
