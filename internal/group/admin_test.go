package group

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/messaging/loopback"
	"github.com/converse-im/converse/internal/signer"
)

func testClient(t *testing.T, n *loopback.Network) messaging.Client {
	t.Helper()
	sig, err := signer.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cli, err := n.NewClient(context.Background(), sig, filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

// testGroup creates a group with creator a (super admin) and plain member b,
// returning each side's conversation handle.
func testGroup(t *testing.T, a, b messaging.Client) (messaging.Conversation, messaging.Conversation) {
	t.Helper()
	ctx := context.Background()
	conv, err := a.Conversations().NewGroup(ctx, []string{b.InboxID()}, messaging.GroupOptions{Name: "g"})
	if err != nil {
		t.Fatal(err)
	}
	groups, err := b.Conversations().ListGroups(ctx, messaging.DefaultConsent)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("b sees %d groups, want 1", len(groups))
	}
	return conv, groups[0]
}

func TestLoadMembersResolvesRoles(t *testing.T) {
	n := loopback.NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)
	conv, _ := testGroup(t, a, b)

	e := NewEngine(conv, a.InboxID(), bus.New(), zap.NewNop())
	if err := e.LoadMembers(ctx); err != nil {
		t.Fatal(err)
	}

	roster := e.Members()
	if len(roster) != 2 {
		t.Fatalf("roster = %d members, want 2", len(roster))
	}
	roles := make(map[string]MemberRole, len(roster))
	for _, r := range roster {
		roles[r.InboxID] = r
	}
	if !roles[a.InboxID()].IsSuperAdmin {
		t.Error("creator is not super admin")
	}
	if roles[b.InboxID()].IsAdmin || roles[b.InboxID()].IsSuperAdmin {
		t.Error("plain member carries a role")
	}
	if !e.SelfIsAdmin() || !e.SelfIsSuperAdmin() {
		t.Error("self flags not resolved for the creator")
	}
}

func TestAddMemberNeedsNoRole(t *testing.T) {
	n := loopback.NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)
	c := testClient(t, n)
	_, bConv := testGroup(t, a, b)

	busInst := bus.New()
	events, cancel := busInst.Subscribe("group", 4)
	defer cancel()

	// b holds no role but may still add.
	e := NewEngine(bConv, b.InboxID(), busInst, zap.NewNop())
	if err := e.LoadMembers(ctx); err != nil {
		t.Fatal(err)
	}
	if e.SelfIsAdmin() {
		t.Fatal("plain member unexpectedly admin")
	}
	if err := e.AddMember(ctx, c.InboxID()); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	if len(e.Members()) != 3 {
		t.Errorf("roster = %d members after add, want 3", len(e.Members()))
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.KindMembersChanged {
			t.Errorf("Kind = %s, want %s", evt.Kind, bus.KindMembersChanged)
		}
	case <-time.After(time.Second):
		t.Error("no members-changed event")
	}
}

// removeCounter counts remote removal attempts passing through the handle.
type removeCounter struct {
	messaging.Conversation
	calls int
}

func (r *removeCounter) RemoveMembers(ctx context.Context, inboxIDs []string) error {
	r.calls++
	return r.Conversation.RemoveMembers(ctx, inboxIDs)
}

func TestRemoveMemberDeniedLocally(t *testing.T) {
	n := loopback.NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)
	c := testClient(t, n)
	aConv, bConv := testGroup(t, a, b)
	if err := aConv.AddMembers(ctx, []string{c.InboxID()}); err != nil {
		t.Fatal(err)
	}

	counting := &removeCounter{Conversation: bConv}
	e := NewEngine(counting, b.InboxID(), bus.New(), zap.NewNop())
	if err := e.LoadMembers(ctx); err != nil {
		t.Fatal(err)
	}

	err := e.RemoveMember(ctx, c.InboxID())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	if counting.calls != 0 {
		t.Errorf("denied removal made %d remote calls, want 0", counting.calls)
	}
	if len(e.Members()) != 3 {
		t.Errorf("roster changed after denied removal")
	}
}

func TestRemoveMemberAsAdmin(t *testing.T) {
	n := loopback.NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)
	c := testClient(t, n)
	aConv, _ := testGroup(t, a, b)
	if err := aConv.AddMembers(ctx, []string{c.InboxID()}); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(aConv, a.InboxID(), bus.New(), zap.NewNop())
	if err := e.LoadMembers(ctx); err != nil {
		t.Fatal(err)
	}

	if err := e.RemoveMember(ctx, c.InboxID()); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	for _, r := range e.Members() {
		if r.InboxID == c.InboxID() {
			t.Error("removed member still on the roster")
		}
	}
}

func TestSuperAdminNeverRemovable(t *testing.T) {
	n := loopback.NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)
	aConv, bConv := testGroup(t, a, b)

	// Promote b to admin; still not enough against a super admin.
	if err := n.PromoteAdmin(aConv.ID(), b.InboxID()); err != nil {
		t.Fatal(err)
	}

	counting := &removeCounter{Conversation: bConv}
	e := NewEngine(counting, b.InboxID(), bus.New(), zap.NewNop())
	if err := e.LoadMembers(ctx); err != nil {
		t.Fatal(err)
	}
	if !e.SelfIsAdmin() {
		t.Fatal("promotion not visible")
	}

	err := e.RemoveMember(ctx, a.InboxID())
	if !errors.Is(err, ErrSuperAdmin) {
		t.Fatalf("error = %v, want ErrSuperAdmin", err)
	}
	if counting.calls != 0 {
		t.Errorf("super admin removal made %d remote calls, want 0", counting.calls)
	}
}

func TestMetadataUpdates(t *testing.T) {
	n := loopback.NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)
	conv, _ := testGroup(t, a, b)

	e := NewEngine(conv, a.InboxID(), bus.New(), zap.NewNop())
	if err := e.UpdateName(ctx, "renamed"); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateDescription(ctx, "about"); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateImageURL(ctx, "https://example.com/x.png"); err != nil {
		t.Fatal(err)
	}

	if conv.Name() != "renamed" || conv.Description() != "about" {
		t.Errorf("metadata = %q / %q, want updated values", conv.Name(), conv.Description())
	}
}
