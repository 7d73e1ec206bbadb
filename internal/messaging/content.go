package messaging

// ContentKind tags the payload variant of a message.
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentSystem ContentKind = "system"
)

// Content is the message payload, decided once at ingestion: either
// displayable text or a structured system event (membership changes,
// metadata edits). Consumers branch on Kind instead of probing the payload.
type Content struct {
	Kind  ContentKind
	Text  string
	Event *SystemEvent
}

// SystemEvent is a structural, non-displayable conversation event.
type SystemEvent struct {
	Kind   string
	Fields map[string]string
}

// TextContent builds a displayable text payload.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// SystemContent builds a structural event payload.
func SystemContent(kind string, fields map[string]string) Content {
	return Content{Kind: ContentSystem, Event: &SystemEvent{Kind: kind, Fields: fields}}
}

// IsText reports whether the payload is displayable text. Preview
// computation skips everything else.
func (c Content) IsText() bool {
	return c.Kind == ContentText
}
