package loopback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/converse-im/converse/internal/messaging"
)

// conversation is a per-client handle onto shared conversation state.
type conversation struct {
	net   *Network
	cli   *client
	state *convState
}

func (c *conversation) ID() string {
	return c.state.id
}

func (c *conversation) Kind() messaging.Kind {
	return c.state.kind
}

func (c *conversation) Name() string {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.state.name
}

func (c *conversation) Description() string {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.state.description
}

func (c *conversation) ImageURL() string {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.state.imageURL
}

// Sync is a consistency point; loopback state is always current.
func (c *conversation) Sync(_ context.Context) error {
	return c.cli.checkOpen()
}

func (c *conversation) Messages(_ context.Context, limit int) ([]messaging.Message, error) {
	if err := c.cli.checkOpen(); err != nil {
		return nil, err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	msgs := c.state.msgs
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]messaging.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *conversation) Members(_ context.Context) ([]messaging.Member, error) {
	if err := c.cli.checkOpen(); err != nil {
		return nil, err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	out := make([]messaging.Member, 0, len(c.state.members))
	for _, inboxID := range c.state.members {
		ids := make([]messaging.Identifier, len(c.net.linked[inboxID]))
		copy(ids, c.net.linked[inboxID])
		out = append(out, messaging.Member{InboxID: inboxID, Identifiers: ids})
	}
	return out, nil
}

func (c *conversation) SendText(_ context.Context, text string) (string, error) {
	if err := c.cli.checkOpen(); err != nil {
		return "", err
	}
	c.net.mu.Lock()
	if !c.state.isMember(c.cli.inboxID) {
		c.net.mu.Unlock()
		return "", fmt.Errorf("loopback: sender is not a member")
	}
	c.net.mu.Unlock()

	msg := messaging.Message{
		ID:             uuid.NewString(),
		ConversationID: c.state.id,
		SenderInboxID:  c.cli.inboxID,
		Content:        messaging.TextContent(text),
		SentAtNS:       time.Now().UnixNano(),
	}
	c.net.deliver(c.state, msg)
	return msg.ID, nil
}

func (c *conversation) Stream(_ context.Context) (messaging.Stream[messaging.Message], error) {
	if err := c.cli.checkOpen(); err != nil {
		return nil, err
	}
	st := newChanStream[messaging.Message](c.cli)
	st.remove = c.net.addMsgSub(&msgSub{
		inboxID: c.cli.inboxID,
		convID:  c.state.id,
		stream:  st,
		owner:   c.cli,
	})
	c.cli.track(st)
	return st, nil
}

func (c *conversation) AddMembers(_ context.Context, inboxIDs []string) error {
	if err := c.cli.checkOpen(); err != nil {
		return err
	}
	c.net.mu.Lock()
	if !c.state.isMember(c.cli.inboxID) {
		c.net.mu.Unlock()
		return fmt.Errorf("loopback: caller is not a member")
	}
	var added []string
	for _, id := range inboxIDs {
		if !c.state.isMember(id) {
			c.state.members = append(c.state.members, id)
			added = append(added, id)
		}
	}
	c.net.mu.Unlock()

	for _, id := range added {
		c.emitSystem("member_added", map[string]string{"inbox_id": id, "by": c.cli.inboxID})
	}
	c.net.notifyConversation(c.state)
	return nil
}

func (c *conversation) RemoveMembers(_ context.Context, inboxIDs []string) error {
	if err := c.cli.checkOpen(); err != nil {
		return err
	}
	c.net.mu.Lock()
	if !c.state.admins[c.cli.inboxID] && !c.state.supers[c.cli.inboxID] {
		c.net.mu.Unlock()
		return fmt.Errorf("loopback: caller lacks admin permission")
	}
	var removed []string
	for _, id := range inboxIDs {
		if c.state.supers[id] {
			c.net.mu.Unlock()
			return fmt.Errorf("loopback: cannot remove super admin %s", id)
		}
		for i, m := range c.state.members {
			if m == id {
				c.state.members = append(c.state.members[:i], c.state.members[i+1:]...)
				delete(c.state.admins, id)
				removed = append(removed, id)
				break
			}
		}
	}
	c.net.mu.Unlock()

	for _, id := range removed {
		c.emitSystem("member_removed", map[string]string{"inbox_id": id, "by": c.cli.inboxID})
	}
	c.net.notifyConversation(c.state)
	return nil
}

func (c *conversation) UpdateName(_ context.Context, name string) error {
	return c.updateMetadata("name", func(cs *convState) { cs.name = name })
}

func (c *conversation) UpdateDescription(_ context.Context, description string) error {
	return c.updateMetadata("description", func(cs *convState) { cs.description = description })
}

func (c *conversation) UpdateImageURL(_ context.Context, url string) error {
	return c.updateMetadata("image_url", func(cs *convState) { cs.imageURL = url })
}

func (c *conversation) updateMetadata(field string, apply func(*convState)) error {
	if err := c.cli.checkOpen(); err != nil {
		return err
	}
	c.net.mu.Lock()
	if !c.state.isMember(c.cli.inboxID) {
		c.net.mu.Unlock()
		return fmt.Errorf("loopback: caller is not a member")
	}
	apply(c.state)
	c.net.mu.Unlock()

	c.emitSystem("metadata_updated", map[string]string{"field": field, "by": c.cli.inboxID})
	c.net.notifyConversation(c.state)
	return nil
}

func (c *conversation) IsAdmin(_ context.Context, inboxID string) (bool, error) {
	if err := c.cli.checkOpen(); err != nil {
		return false, err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.state.admins[inboxID], nil
}

func (c *conversation) IsSuperAdmin(_ context.Context, inboxID string) (bool, error) {
	if err := c.cli.checkOpen(); err != nil {
		return false, err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.state.supers[inboxID], nil
}

func (c *conversation) emitSystem(kind string, fields map[string]string) {
	msg := messaging.Message{
		ID:             uuid.NewString(),
		ConversationID: c.state.id,
		SenderInboxID:  c.cli.inboxID,
		Content:        messaging.SystemContent(kind, fields),
		SentAtNS:       time.Now().UnixNano(),
	}
	c.net.deliver(c.state, msg)
}
