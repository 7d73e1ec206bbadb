package loopback

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/signer"
)

func testClient(t *testing.T, n *Network) messaging.Client {
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

func TestInboxIDDeterministic(t *testing.T) {
	if InboxIDFor("0xabc") != InboxIDFor("0xabc") {
		t.Error("same identity produced different inbox ids")
	}
	if InboxIDFor("0xabc") == InboxIDFor("0xdef") {
		t.Error("different identities produced the same inbox id")
	}
}

func TestClientLocksStore(t *testing.T) {
	n := NewNetwork()
	dir := filepath.Join(t.TempDir(), "store")

	sig, err := signer.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	first, err := n.NewClient(context.Background(), sig, dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := n.NewClient(context.Background(), sig, dir); err == nil {
		t.Fatal("second client for the same store should fail")
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := n.NewClient(context.Background(), sig, dir)
	if err != nil {
		t.Fatalf("reopen after close error = %v", err)
	}
	_ = second.Close()
}

func TestDMVisibleToBothSides(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)

	conv, err := a.Conversations().NewDM(ctx, b.InboxID())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conv.SendText(ctx, "hello"); err != nil {
		t.Fatal(err)
	}

	// B sees the DM under the unknown consent state.
	dms, err := b.Conversations().ListDMs(ctx, messaging.DefaultConsent)
	if err != nil {
		t.Fatal(err)
	}
	if len(dms) != 1 {
		t.Fatalf("b sees %d DMs, want 1", len(dms))
	}
	msgs, err := dms[0].Messages(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content.Text != "hello" {
		t.Errorf("b sees %v, want one hello", msgs)
	}
}

func TestConsentFiltersLists(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)

	conv, err := a.Conversations().NewDM(ctx, b.InboxID())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.SetConsent(b.InboxID(), conv.ID(), messaging.ConsentDenied); err != nil {
		t.Fatal(err)
	}

	dms, err := b.Conversations().ListDMs(ctx, messaging.DefaultConsent)
	if err != nil {
		t.Fatal(err)
	}
	if len(dms) != 0 {
		t.Errorf("denied DM still listed: %d", len(dms))
	}
}

func TestMessageStreamDelivers(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)

	conv, err := a.Conversations().NewDM(ctx, b.InboxID())
	if err != nil {
		t.Fatal(err)
	}
	bConvs, err := b.Conversations().ListDMs(ctx, messaging.DefaultConsent)
	if err != nil {
		t.Fatal(err)
	}
	st, err := bConvs[0].Stream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close() }()

	if _, err := conv.SendText(ctx, "ping"); err != nil {
		t.Fatal(err)
	}

	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msg, err := st.Next(readCtx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if msg.Content.Text != "ping" {
		t.Errorf("got %q, want ping", msg.Content.Text)
	}
}

func TestStreamCloseAfterClientClose(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()

	sig, err := signer.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cli, err := n.NewClient(ctx, sig, filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatal(err)
	}

	st, err := cli.Conversations().Stream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := cli.Close(); err != nil {
		t.Fatal(err)
	}

	// Reads fail with the closed sentinel; closing races teardown and errors.
	if _, err := st.Next(ctx); !errors.Is(err, messaging.ErrStreamClosed) {
		t.Errorf("Next() error = %v, want ErrStreamClosed", err)
	}
	if err := st.Close(); err == nil {
		t.Error("Close() after client close should error")
	}
}

func TestGroupMembershipOperations(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)
	c := testClient(t, n)

	group, err := a.Conversations().NewGroup(ctx, []string{b.InboxID()}, messaging.GroupOptions{Name: "plans"})
	if err != nil {
		t.Fatal(err)
	}

	// Creator is super admin.
	super, err := group.IsSuperAdmin(ctx, a.InboxID())
	if err != nil {
		t.Fatal(err)
	}
	if !super {
		t.Error("creator should be super admin")
	}

	// Any member may add; membership events land in history as system items.
	bGroups, err := b.Conversations().ListGroups(ctx, messaging.DefaultConsent)
	if err != nil {
		t.Fatal(err)
	}
	if err := bGroups[0].AddMembers(ctx, []string{c.InboxID()}); err != nil {
		t.Fatalf("member add error = %v", err)
	}
	msgs, err := group.Messages(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content.Kind != messaging.ContentSystem {
		t.Fatalf("expected one system message, got %v", msgs)
	}

	// Non-admin removal is rejected by the service.
	if err := bGroups[0].RemoveMembers(ctx, []string{c.InboxID()}); err == nil {
		t.Error("non-admin remove should fail")
	}

	// Super admins are never removable.
	if err := group.RemoveMembers(ctx, []string{a.InboxID()}); err == nil {
		t.Error("removing a super admin should fail")
	}

	if err := group.RemoveMembers(ctx, []string{c.InboxID()}); err != nil {
		t.Errorf("admin remove error = %v", err)
	}
	members, err := group.Members(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("got %d members, want 2", len(members))
	}
}

func TestCanMessageAndResolve(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()
	a := testClient(t, n)
	b := testClient(t, n)

	bIdentity := messaging.Identifier{Kind: messaging.IdentifierEthereum, Value: "0xlinked"}
	n.LinkIdentifier(b.InboxID(), bIdentity)

	got, err := a.CanMessage(ctx, []messaging.Identifier{
		bIdentity,
		{Kind: messaging.IdentifierEthereum, Value: "0xunknown"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got["0xlinked"] || got["0xunknown"] {
		t.Errorf("CanMessage = %v", got)
	}

	inboxID, err := a.InboxIDByIdentifier(ctx, bIdentity)
	if err != nil {
		t.Fatal(err)
	}
	if inboxID != b.InboxID() {
		t.Errorf("resolved %q, want %q", inboxID, b.InboxID())
	}
}
