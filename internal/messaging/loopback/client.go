package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/converse-im/converse/internal/lock"
	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/signer"
)

type stopper interface {
	shutdown() bool
}

// client is one authenticated connection to the loopback network. It holds
// the flock on its store directory until closed.
type client struct {
	net      *Network
	inboxID  string
	identity string
	lock     *lock.Lock

	mu      sync.Mutex
	closed  bool
	streams []stopper
}

// NewClient authenticates a signer against the network and locks the store
// directory. A second client for the same store path fails until the first
// is closed and the lock has settled.
func (n *Network) NewClient(_ context.Context, sig signer.Signer, storeDir string) (messaging.Client, error) {
	l, err := lock.Acquire(storeDir)
	if err != nil {
		return nil, fmt.Errorf("acquire store: %w", err)
	}

	identity := sig.Identity()
	n.mu.Lock()
	inboxID := n.register(identity)
	n.mu.Unlock()

	return &client{
		net:      n,
		inboxID:  inboxID,
		identity: identity,
		lock:     l,
	}, nil
}

func (c *client) InboxID() string { return c.inboxID }

func (c *client) Conversations() messaging.ConversationsAPI {
	return &conversationsAPI{cli: c}
}

func (c *client) CanMessage(_ context.Context, ids []messaging.Identifier) (map[string]bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := c.net.inboxes[id.Value]
		out[id.Value] = ok
	}
	return out, nil
}

func (c *client) InboxIDByIdentifier(_ context.Context, id messaging.Identifier) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.net.inboxes[id.Value], nil
}

// Close ends every open stream and releases the store lock. Idempotent.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	for _, s := range streams {
		s.shutdown()
	}
	return c.lock.Release()
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *client) checkOpen() error {
	if c.isClosed() {
		return fmt.Errorf("loopback: client closed")
	}
	return nil
}

func (c *client) track(s stopper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, s)
}

type conversationsAPI struct {
	cli *client
}

// SyncAll is a consistency point against the network. Loopback state is
// always current, so this only validates the client.
func (a *conversationsAPI) SyncAll(_ context.Context, _ []messaging.ConsentState) error {
	return a.cli.checkOpen()
}

func (a *conversationsAPI) ListDMs(_ context.Context, consent []messaging.ConsentState) ([]messaging.Conversation, error) {
	return a.list(messaging.KindDirect, consent)
}

func (a *conversationsAPI) ListGroups(_ context.Context, consent []messaging.ConsentState) ([]messaging.Conversation, error) {
	return a.list(messaging.KindGroup, consent)
}

func (a *conversationsAPI) list(kind messaging.Kind, consent []messaging.ConsentState) ([]messaging.Conversation, error) {
	if err := a.cli.checkOpen(); err != nil {
		return nil, err
	}
	n := a.cli.net
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []messaging.Conversation
	for _, cs := range n.convs {
		if cs.kind != kind || !cs.isMember(a.cli.inboxID) {
			continue
		}
		if !consentMatches(cs.consentFor(a.cli.inboxID), consent) {
			continue
		}
		out = append(out, &conversation{net: n, cli: a.cli, state: cs})
	}
	return out, nil
}

func (a *conversationsAPI) NewDM(_ context.Context, inboxID string) (messaging.Conversation, error) {
	if err := a.cli.checkOpen(); err != nil {
		return nil, err
	}
	cs := a.cli.net.createConversation(messaging.KindDirect, a.cli.inboxID, []string{inboxID}, messaging.GroupOptions{})
	return &conversation{net: a.cli.net, cli: a.cli, state: cs}, nil
}

func (a *conversationsAPI) NewGroup(_ context.Context, inboxIDs []string, opts messaging.GroupOptions) (messaging.Conversation, error) {
	if err := a.cli.checkOpen(); err != nil {
		return nil, err
	}
	cs := a.cli.net.createConversation(messaging.KindGroup, a.cli.inboxID, inboxIDs, opts)
	return &conversation{net: a.cli.net, cli: a.cli, state: cs}, nil
}

func (a *conversationsAPI) Stream(_ context.Context) (messaging.Stream[messaging.Conversation], error) {
	if err := a.cli.checkOpen(); err != nil {
		return nil, err
	}
	st := newChanStream[messaging.Conversation](a.cli)
	st.remove = a.cli.net.addConvSub(&convSub{inboxID: a.cli.inboxID, stream: st, owner: a.cli})
	a.cli.track(st)
	return st, nil
}

func (a *conversationsAPI) StreamAllMessages(_ context.Context, consent []messaging.ConsentState) (messaging.Stream[messaging.Message], error) {
	if err := a.cli.checkOpen(); err != nil {
		return nil, err
	}
	st := newChanStream[messaging.Message](a.cli)
	st.remove = a.cli.net.addMsgSub(&msgSub{
		inboxID: a.cli.inboxID,
		consent: consent,
		stream:  st,
		owner:   a.cli,
	})
	a.cli.track(st)
	return st, nil
}
