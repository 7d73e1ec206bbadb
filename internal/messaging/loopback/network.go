// Package loopback is an in-memory messaging service. It implements the
// full client capability set over process-local state: flock-guarded store
// handles, channel-backed streams, per-viewer consent. It backs the engine
// in tests and local development; a wire-protocol client slots in behind
// the same interfaces.
package loopback

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/converse-im/converse/internal/messaging"
)

// inboxNamespace makes inbox ids deterministic per identity, so reopening
// a session for the same owner resumes the same inbox.
var inboxNamespace = uuid.MustParse("8f4e2d0a-1c9b-4b7e-9f63-2a5d8c41e7b0")

// Network is a process-local messaging service shared by its clients.
type Network struct {
	mu       sync.Mutex
	inboxes  map[string]string   // identifier value -> inbox id
	linked   map[string][]messaging.Identifier
	convs    map[string]*convState
	convSubs map[int]*convSub
	msgSubs  map[int]*msgSub
	nextSub  int
}

type convSub struct {
	inboxID string
	stream  *chanStream[messaging.Conversation]
	owner   *client
}

type msgSub struct {
	inboxID string
	convID  string // "" = all conversations
	consent []messaging.ConsentState
	stream  *chanStream[messaging.Message]
	owner   *client
}

type convState struct {
	id          string
	kind        messaging.Kind
	name        string
	description string
	imageURL    string
	members     []string // insertion order
	admins      map[string]bool
	supers      map[string]bool
	consent     map[string]messaging.ConsentState // per-viewer inbox id
	msgs        []messaging.Message
}

// NewNetwork creates an empty loopback network.
func NewNetwork() *Network {
	return &Network{
		inboxes:  make(map[string]string),
		linked:   make(map[string][]messaging.Identifier),
		convs:    make(map[string]*convState),
		convSubs: make(map[int]*convSub),
		msgSubs:  make(map[int]*msgSub),
	}
}

// InboxIDFor returns the deterministic inbox id for an identity value.
func InboxIDFor(identity string) string {
	return uuid.NewSHA1(inboxNamespace, []byte(identity)).String()
}

// LinkIdentifier attaches an extra identifier to an inbox, as a wallet or
// passkey registration would.
func (n *Network) LinkIdentifier(inboxID string, id messaging.Identifier) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inboxes[id.Value] = inboxID
	n.linked[inboxID] = append(n.linked[inboxID], id)
}

func (n *Network) register(identity string) string {
	inboxID := InboxIDFor(identity)
	if _, ok := n.inboxes[identity]; !ok {
		n.inboxes[identity] = inboxID
		n.linked[inboxID] = append(n.linked[inboxID], messaging.Identifier{
			Kind:  messaging.IdentifierEthereum,
			Value: identity,
		})
	}
	return inboxID
}

func (cs *convState) isMember(inboxID string) bool {
	for _, m := range cs.members {
		if m == inboxID {
			return true
		}
	}
	return false
}

func (cs *convState) consentFor(inboxID string) messaging.ConsentState {
	if c, ok := cs.consent[inboxID]; ok {
		return c
	}
	return messaging.ConsentUnknown
}

func consentMatches(state messaging.ConsentState, filter []messaging.ConsentState) bool {
	for _, f := range filter {
		if f == state {
			return true
		}
	}
	return false
}

// PromoteAdmin grants admin rights on a conversation. Helper for building
// group fixtures.
func (n *Network) PromoteAdmin(convID, inboxID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cs, ok := n.convs[convID]
	if !ok {
		return fmt.Errorf("loopback: unknown conversation %s", convID)
	}
	cs.admins[inboxID] = true
	return nil
}

// SetConsent records a viewer's consent for a conversation.
func (n *Network) SetConsent(inboxID, convID string, state messaging.ConsentState) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cs, ok := n.convs[convID]
	if !ok {
		return fmt.Errorf("loopback: unknown conversation %s", convID)
	}
	cs.consent[inboxID] = state
	return nil
}

// createConversation registers a new conversation and notifies member
// conversation streams. Caller must not hold n.mu.
func (n *Network) createConversation(kind messaging.Kind, creator string, members []string, opts messaging.GroupOptions) *convState {
	n.mu.Lock()
	cs := &convState{
		id:          uuid.NewString(),
		kind:        kind,
		name:        opts.Name,
		description: opts.Description,
		imageURL:    opts.ImageURL,
		admins:      make(map[string]bool),
		supers:      make(map[string]bool),
		consent:     make(map[string]messaging.ConsentState),
	}
	cs.members = append(cs.members, creator)
	cs.consent[creator] = messaging.ConsentAllowed
	for _, m := range members {
		if m != creator {
			cs.members = append(cs.members, m)
		}
	}
	if kind == messaging.KindGroup {
		cs.supers[creator] = true
	}
	n.convs[cs.id] = cs
	n.mu.Unlock()

	n.notifyConversation(cs)
	return cs
}

// notifyConversation fans a conversation out to member conversation streams.
func (n *Network) notifyConversation(cs *convState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.convSubs {
		if cs.isMember(sub.inboxID) {
			sub.stream.offer(&conversation{net: n, cli: sub.owner, state: cs})
		}
	}
}

// deliver appends a message to history and fans it out to matching
// per-conversation and global streams.
func (n *Network) deliver(cs *convState, msg messaging.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cs.msgs = append(cs.msgs, msg)
	for _, sub := range n.msgSubs {
		if !cs.isMember(sub.inboxID) {
			continue
		}
		if sub.convID != "" && sub.convID != cs.id {
			continue
		}
		if sub.convID == "" && !consentMatches(cs.consentFor(sub.inboxID), sub.consent) {
			continue
		}
		sub.stream.offer(msg)
	}
}

func (n *Network) addConvSub(s *convSub) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.convSubs[id] = s
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.convSubs, id)
	}
}

func (n *Network) addMsgSub(s *msgSub) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.msgSubs[id] = s
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.msgSubs, id)
	}
}
