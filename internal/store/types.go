package store

// Conversation is a cached conversation row.
type Conversation struct {
	ID          string
	Kind        string
	Name        string
	Description string
	ImageURL    string
	MemberCount int
	LastText    string
	// LastTextAt is nanoseconds since epoch; 0 means no text preview.
	LastTextAt int64
}

// Message is a cached message row. Position preserves arrival order within
// a conversation.
type Message struct {
	ConversationID string
	MessageID      string
	SenderInboxID  string
	ContentKind    string
	Body           string
	SentAtNS       int64
	Position       int
}
