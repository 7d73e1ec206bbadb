package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "message." or "stream.".
const (
	KindSessionOpened  = "session.opened"
	KindSessionClosed  = "session.closed"
	KindSessionError   = "session.error"
	KindViewRefreshed  = "conversation.view_refreshed"
	KindMessageStored  = "message.stored"
	KindMessageSent    = "message.send_ack"
	KindMessageFailed  = "message.send_failed"
	KindStreamStatus   = "stream.status_changed"
	KindMembersChanged = "group.members_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
