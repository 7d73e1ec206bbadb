package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/messaging/loopback"
	"github.com/converse-im/converse/internal/signer"
)

type fakeClient struct {
	inboxID  string
	closeErr error

	mu     sync.Mutex
	closed bool
}

func (c *fakeClient) InboxID() string                           { return c.inboxID }
func (c *fakeClient) Conversations() messaging.ConversationsAPI { return nil }
func (c *fakeClient) CanMessage(context.Context, []messaging.Identifier) (map[string]bool, error) {
	return nil, nil
}
func (c *fakeClient) InboxIDByIdentifier(context.Context, messaging.Identifier) (string, error) {
	return "", nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.closeErr
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	built   []*fakeClient
	err     error
	block   chan struct{}
	onBuild func()
}

func (f *fakeFactory) build(_ context.Context, sig signer.Signer, _ string) (messaging.Client, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.onBuild != nil {
		f.onBuild()
	}
	c := &fakeClient{inboxID: "inbox-" + sig.Identity()}
	f.built = append(f.built, c)
	return c, nil
}

func (f *fakeFactory) builtCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func testOwner(t *testing.T) Owner {
	t.Helper()
	sig, err := signer.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return Owner{Kind: OwnerEphemeral, Signer: sig}
}

func testManager(t *testing.T, f *fakeFactory) *Manager {
	t.Helper()
	return NewManager(f.build, t.TempDir(), 5*time.Millisecond, bus.New(), zap.NewNop())
}

func TestOpenPublishesSession(t *testing.T) {
	f := &fakeFactory{}
	b := bus.New()
	m := NewManager(f.build, t.TempDir(), time.Millisecond, b, zap.NewNop())
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	owner := testOwner(t)
	sess, err := m.Open(context.Background(), owner)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.OwnerIdentity != owner.Identity() {
		t.Errorf("OwnerIdentity = %q, want %q", sess.OwnerIdentity, owner.Identity())
	}
	if sess.InboxID == "" || sess.Token == "" {
		t.Error("session missing inbox id or token")
	}
	if m.Phase() != PhaseOpen {
		t.Errorf("phase = %s, want OPEN", m.Phase())
	}
	if m.Current() != sess {
		t.Error("Current() should return the published session")
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSessionOpened {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSessionOpened)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session.opened event")
	}
}

func TestOpenSameOwnerIsNoop(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(t, f)
	owner := testOwner(t)

	first, err := m.Open(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Open(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("same owner should return the same session")
	}
	if f.builtCount() != 1 {
		t.Errorf("clients built = %d, want 1", f.builtCount())
	}
}

func TestConcurrentOpenFailsFast(t *testing.T) {
	f := &fakeFactory{block: make(chan struct{})}
	m := testManager(t, f)

	done := make(chan error, 1)
	go func() {
		_, err := m.Open(context.Background(), testOwner(t))
		done <- err
	}()

	// Wait for the first open to take the in-flight guard.
	deadline := time.Now().Add(2 * time.Second)
	for !m.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	_, err := m.Open(context.Background(), testOwner(t))
	if !errors.Is(err, ErrBusy) {
		t.Errorf("second Open() error = %v, want ErrBusy", err)
	}

	close(f.block)
	if err := <-done; err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if f.builtCount() != 1 {
		t.Errorf("clients built = %d, want 1", f.builtCount())
	}
}

func TestSwitchOwnerClosesFirstFully(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(t, f)

	sessA, err := m.Open(context.Background(), testOwner(t))
	if err != nil {
		t.Fatal(err)
	}
	clientA := sessA.Client.(*fakeClient)

	// The previous client must be fully closed before the next one is
	// constructed.
	f.onBuild = func() {
		if !clientA.isClosed() {
			t.Error("client A still open when client B is constructed")
		}
	}

	sessB, err := m.Open(context.Background(), testOwner(t))
	if err != nil {
		t.Fatal(err)
	}
	if sessB == sessA {
		t.Fatal("expected a new session")
	}
	if !clientA.isClosed() {
		t.Error("client A not closed after switch")
	}
	if f.builtCount() != 2 {
		t.Errorf("clients built = %d, want 2", f.builtCount())
	}
}

func TestCloseIsIdempotentAndSwallowsErrors(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(t, f)

	sess, err := m.Open(context.Background(), testOwner(t))
	if err != nil {
		t.Fatal(err)
	}
	sess.Client.(*fakeClient).closeErr = errors.New("transport torn down")

	m.Close()
	if m.Current() != nil {
		t.Error("Current() should be nil after close")
	}
	if m.Phase() != PhaseIdle {
		t.Errorf("phase = %s, want IDLE", m.Phase())
	}

	// Second close is a no-op.
	m.Close()
	if m.Phase() != PhaseIdle {
		t.Errorf("phase after second close = %s, want IDLE", m.Phase())
	}
}

func TestOpenFailureLeavesManagerClosed(t *testing.T) {
	f := &fakeFactory{err: errors.New("identity has already registered 5/5 installations")}
	m := testManager(t, f)

	_, err := m.Open(context.Background(), testOwner(t))
	if err == nil {
		t.Fatal("Open() should fail")
	}
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if serr.Kind != KindInstallationLimit {
		t.Errorf("Kind = %s, want installation_limit", serr.Kind)
	}
	if m.Current() != nil || m.Phase() != PhaseIdle || m.Busy() {
		t.Error("manager not fully closed after failed open")
	}

	// The manager recovers once the underlying failure clears.
	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	if _, err := m.Open(context.Background(), testOwner(t)); err != nil {
		t.Errorf("Open() after recovery error = %v", err)
	}
}

func TestStoreLockReleasedOnSwitch(t *testing.T) {
	n := loopback.NewNetwork()
	factory := func(ctx context.Context, sig signer.Signer, storeDir string) (messaging.Client, error) {
		return n.NewClient(ctx, sig, storeDir)
	}
	m := NewManager(factory, t.TempDir(), time.Millisecond, bus.New(), zap.NewNop())

	ownerA := testOwner(t)
	ownerB := testOwner(t)

	if _, err := m.Open(context.Background(), ownerA); err != nil {
		t.Fatalf("open A: %v", err)
	}
	if _, err := m.Open(context.Background(), ownerB); err != nil {
		t.Fatalf("open B: %v", err)
	}
	// A's store lock must be free again immediately after the switch.
	sessA, err := m.Open(context.Background(), ownerA)
	if err != nil {
		t.Fatalf("reopen A: %v", err)
	}
	if sessA.OwnerIdentity != ownerA.Identity() {
		t.Errorf("OwnerIdentity = %q, want A", sessA.OwnerIdentity)
	}
}
