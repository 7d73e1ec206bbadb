// Package group manages membership and roles for one group conversation:
// a locally cached roster with per-member admin flags, permission-guarded
// mutations, and metadata updates.
package group

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/messaging"
)

// ErrPermissionDenied is returned when the caller lacks the admin role a
// mutation requires. The check is local; no remote call is attempted.
var ErrPermissionDenied = errors.New("group: admin permission required")

// ErrSuperAdmin is returned when a mutation targets a super admin. Super
// admins cannot be removed.
var ErrSuperAdmin = errors.New("group: super admins cannot be removed")

// MemberRole is one roster entry with resolved role flags and the member's
// addressable identifiers.
type MemberRole struct {
	InboxID      string
	Addresses    []string
	IsAdmin      bool
	IsSuperAdmin bool
}

// Engine manages one group's roster. Role state is recomputed wholesale on
// every load; mutations reload before reporting success so the cached
// roster never trails a change made through this engine.
type Engine struct {
	conv   messaging.Conversation
	selfID string
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	members   []MemberRole
	selfAdmin bool
	selfSuper bool
}

// NewEngine creates a roster engine over a group conversation handle.
// selfInboxID is the session owner's inbox, used for permission checks.
func NewEngine(conv messaging.Conversation, selfInboxID string, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{conv: conv, selfID: selfInboxID, bus: b, logger: logger}
}

// LoadMembers recomputes the full roster: every member's admin and super
// admin flag is queried independently, and addressable identifiers are
// collected per member.
func (e *Engine) LoadMembers(ctx context.Context) error {
	members, err := e.conv.Members(ctx)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}

	roster := make([]MemberRole, 0, len(members))
	for _, m := range members {
		admin, err := e.conv.IsAdmin(ctx, m.InboxID)
		if err != nil {
			return fmt.Errorf("admin flag of %s: %w", m.InboxID, err)
		}
		super, err := e.conv.IsSuperAdmin(ctx, m.InboxID)
		if err != nil {
			return fmt.Errorf("super admin flag of %s: %w", m.InboxID, err)
		}
		role := MemberRole{InboxID: m.InboxID, IsAdmin: admin, IsSuperAdmin: super}
		for _, id := range m.Identifiers {
			if id.Kind == messaging.IdentifierEthereum {
				role.Addresses = append(role.Addresses, id.Value)
			}
		}
		roster = append(roster, role)
	}

	e.mu.Lock()
	e.members = roster
	e.selfAdmin = false
	e.selfSuper = false
	for _, r := range roster {
		if r.InboxID == e.selfID {
			e.selfAdmin = r.IsAdmin
			e.selfSuper = r.IsSuperAdmin
			break
		}
	}
	e.mu.Unlock()
	return nil
}

// Members returns the cached roster.
func (e *Engine) Members() []MemberRole {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MemberRole, len(e.members))
	copy(out, e.members)
	return out
}

// SelfIsAdmin reports whether the session owner holds the admin role, per
// the last load.
func (e *Engine) SelfIsAdmin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfAdmin || e.selfSuper
}

// SelfIsSuperAdmin reports whether the session owner holds the super admin
// role, per the last load.
func (e *Engine) SelfIsSuperAdmin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfSuper
}

// AddMember adds an inbox to the group. Any member may add; no role is
// required.
func (e *Engine) AddMember(ctx context.Context, inboxID string) error {
	if err := e.conv.AddMembers(ctx, []string{inboxID}); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return e.reload(ctx, "add", inboxID)
}

// RemoveMember removes an inbox from the group. Requires the admin or super
// admin role, checked against the cached roster before any remote call.
// Super admins are never removable.
func (e *Engine) RemoveMember(ctx context.Context, inboxID string) error {
	e.mu.Lock()
	allowed := e.selfAdmin || e.selfSuper
	var targetSuper bool
	for _, r := range e.members {
		if r.InboxID == inboxID {
			targetSuper = r.IsSuperAdmin
			break
		}
	}
	e.mu.Unlock()

	if !allowed {
		return ErrPermissionDenied
	}
	if targetSuper {
		return ErrSuperAdmin
	}

	if err := e.conv.RemoveMembers(ctx, []string{inboxID}); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return e.reload(ctx, "remove", inboxID)
}

// UpdateName sets the group name.
func (e *Engine) UpdateName(ctx context.Context, name string) error {
	return e.conv.UpdateName(ctx, name)
}

// UpdateDescription sets the group description.
func (e *Engine) UpdateDescription(ctx context.Context, description string) error {
	return e.conv.UpdateDescription(ctx, description)
}

// UpdateImageURL sets the group image URL.
func (e *Engine) UpdateImageURL(ctx context.Context, url string) error {
	return e.conv.UpdateImageURL(ctx, url)
}

func (e *Engine) reload(ctx context.Context, op, inboxID string) error {
	if err := e.LoadMembers(ctx); err != nil {
		// The mutation landed; a stale roster is recoverable on the
		// next load.
		e.logger.Warn("roster reload after mutation failed",
			zap.String("op", op), zap.Error(err))
	}
	e.bus.Emit(bus.KindMembersChanged, map[string]string{
		"conversation_id": e.conv.ID(),
		"op":              op,
		"inbox_id":        inboxID,
	})
	return nil
}
