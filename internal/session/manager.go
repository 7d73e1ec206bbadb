// Package session owns the single active client connection to the messaging
// service. At most one session exists per process; switching owners runs a
// full close-then-open sequence with a settle delay for the store lock.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/messaging"
	"github.com/converse-im/converse/internal/signer"
)

// Phase is the manager's lifecycle state.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseOpening Phase = "OPENING"
	PhaseOpen    Phase = "OPEN"
	PhaseClosing Phase = "CLOSING"
)

// OwnerKind distinguishes the mutually exclusive owner tokens.
type OwnerKind string

const (
	// OwnerEphemeral is a locally generated throwaway identity.
	OwnerEphemeral OwnerKind = "ephemeral"
	// OwnerWallet is the connected wallet.
	OwnerWallet OwnerKind = "wallet"
)

// Owner identifies who a session is opened for.
type Owner struct {
	Kind   OwnerKind
	Signer signer.Signer
}

// Identity returns the owner's address-like identifier.
func (o Owner) Identity() string { return o.Signer.Identity() }

// Factory constructs a service client bound to a store directory.
type Factory func(ctx context.Context, sig signer.Signer, storeDir string) (messaging.Client, error)

// Session is one open client connection. Published atomically: readers see
// either the previous complete session or the new one, never a partial.
type Session struct {
	Client        messaging.Client
	OwnerIdentity string
	OwnerKind     OwnerKind
	InboxID       string
	// Token is a fresh identifier per open, for callers that key transient
	// state to a session instance.
	Token string
}

// Manager serializes session lifecycle. Only the manager may close the
// client; engines hold borrowed references and must stop using them once a
// close is reported on the bus.
type Manager struct {
	factory Factory
	dataDir string
	settle  time.Duration
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.Mutex
	phase    Phase
	inflight bool
	current  *Session
}

// NewManager creates an idle manager.
func NewManager(factory Factory, dataDir string, settle time.Duration, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		factory: factory,
		dataDir: dataDir,
		settle:  settle,
		bus:     b,
		logger:  logger,
		phase:   PhaseIdle,
	}
}

// Current returns the published session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Phase returns the lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Busy reports whether an open or close is in flight.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}

// Open opens a session for the owner. No-op if one is already open for the
// same identity. Fails fast with ErrBusy if another open or close is in
// flight. Otherwise any existing session is fully closed (settle delay
// included) before the new client is constructed.
func (m *Manager) Open(ctx context.Context, owner Owner) (*Session, error) {
	identity := owner.Identity()

	m.mu.Lock()
	if m.inflight {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	if m.current != nil && m.current.OwnerIdentity == identity {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.inflight = true
	old := m.current
	m.current = nil
	if old != nil {
		m.phase = PhaseClosing
	} else {
		m.phase = PhaseOpening
	}
	m.mu.Unlock()

	if old != nil {
		m.closeClient(old)
		m.mu.Lock()
		m.phase = PhaseOpening
		m.mu.Unlock()
	}

	storeDir := StoreDir(m.dataDir, identity)
	if err := EnsureDir(m.dataDir, identity); err != nil {
		return nil, m.failOpen(identity, err)
	}

	m.logger.Info("opening session",
		zap.String("owner", identity),
		zap.String("kind", string(owner.Kind)))

	cli, err := m.factory(ctx, owner.Signer, storeDir)
	if err != nil {
		return nil, m.failOpen(identity, err)
	}

	sess := &Session{
		Client:        cli,
		OwnerIdentity: identity,
		OwnerKind:     owner.Kind,
		InboxID:       cli.InboxID(),
		Token:         uuid.NewString(),
	}

	m.mu.Lock()
	m.current = sess
	m.phase = PhaseOpen
	m.inflight = false
	m.mu.Unlock()

	m.logger.Info("session open",
		zap.String("owner", identity),
		zap.String("inbox_id", sess.InboxID))
	m.bus.Emit(bus.KindSessionOpened, sess)
	return sess, nil
}

// Close closes the published session. Idempotent; close-time transport
// errors are logged and swallowed. A call racing an in-flight open or close
// is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.inflight {
		m.mu.Unlock()
		return
	}
	if m.current == nil {
		m.phase = PhaseIdle
		m.mu.Unlock()
		return
	}
	m.inflight = true
	m.phase = PhaseClosing
	old := m.current
	m.current = nil
	m.mu.Unlock()

	m.closeClient(old)

	m.mu.Lock()
	m.phase = PhaseIdle
	m.inflight = false
	m.mu.Unlock()

	m.bus.Emit(bus.KindSessionClosed, old.OwnerIdentity)
}

// failOpen classifies the failure and leaves the manager fully closed.
func (m *Manager) failOpen(identity string, err error) *Error {
	serr := Classify(err)

	m.mu.Lock()
	m.phase = PhaseIdle
	m.inflight = false
	m.mu.Unlock()

	m.logger.Error("session open failed",
		zap.String("owner", identity),
		zap.String("error_kind", string(serr.Kind)),
		zap.Error(err))
	m.bus.Emit(bus.KindSessionError, serr)
	return serr
}

// closeClient closes the client and waits out the settle delay so the
// storage layer releases its lock before any reopen.
func (m *Manager) closeClient(s *Session) {
	if err := s.Client.Close(); err != nil {
		m.logger.Warn("error closing client",
			zap.String("owner", s.OwnerIdentity), zap.Error(err))
	}
	time.Sleep(m.settle)
	m.logger.Info("session closed", zap.String("owner", s.OwnerIdentity))
}
