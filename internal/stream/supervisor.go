// Package stream wraps long-lived service subscriptions in supervised loops
// with bounded retry, status reporting, and cooperative cancellation.
package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/converse-im/converse/internal/bus"
	"github.com/converse-im/converse/internal/messaging"
)

// Opener establishes (or re-establishes) the underlying subscription.
type Opener[T any] func(ctx context.Context) (messaging.Stream[T], error)

// Handler processes one delivered item. Called from the supervisor
// goroutine, in delivery order.
type Handler[T any] func(item T)

// Config bounds the retry behavior.
type Config struct {
	// RetryAttempts is the number of reconnects after the initial attempt.
	RetryAttempts int
	// RetryDelay is the fixed pause before each reconnect.
	RetryDelay time.Duration
}

// Supervisor runs one subscription in a retrying loop. Once retries are
// exhausted the status settles at Failed and only a fresh Start recovers it.
type Supervisor[T any] struct {
	name    string
	open    Opener[T]
	handle  Handler[T]
	cfg     Config
	machine *Machine
	logger  *zap.Logger

	mu     sync.Mutex
	alive  bool
	gen    int
	cancel context.CancelFunc
	cur    messaging.Stream[T]
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor[T any](name string, open Opener[T], handle Handler[T], cfg Config, b *bus.Bus, logger *zap.Logger) *Supervisor[T] {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 15 * time.Second
	}
	return &Supervisor[T]{
		name:    name,
		open:    open,
		handle:  handle,
		cfg:     cfg,
		machine: NewMachine(name, b),
		logger:  logger,
	}
}

// Status returns the current stream status.
func (s *Supervisor[T]) Status() Status {
	return s.machine.Current()
}

// Start launches the supervised loop. A supervisor that is already running
// is left alone.
func (s *Supervisor[T]) Start(ctx context.Context) {
	s.mu.Lock()
	if s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = true
	s.gen++
	gen := s.gen
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx, gen)
}

// Stop flips the liveness flag, cancels the loop, and gracefully closes the
// current subscription. A close failing because the parent client is already
// gone is expected during an owner switch and swallowed.
func (s *Supervisor[T]) Stop() {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = false
	cancel := s.cancel
	cur := s.cur
	s.cur = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cur != nil {
		if err := cur.Close(); err != nil {
			s.logger.Debug("stream close during stop", zap.String("stream", s.name), zap.Error(err))
		}
	}
}

// retire marks a loop that exited on its own as dead, so a later Start runs
// a fresh one. Guarded by generation: a newer loop's state is left alone.
func (s *Supervisor[T]) retire(gen int) {
	s.mu.Lock()
	if s.gen != gen || !s.alive {
		s.mu.Unlock()
		return
	}
	s.alive = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor[T]) isAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *Supervisor[T]) setCurrent(st messaging.Stream[T]) {
	s.mu.Lock()
	s.cur = st
	s.mu.Unlock()
}

func (s *Supervisor[T]) run(ctx context.Context, gen int) {
	defer s.retire(gen)

	_ = s.machine.Transition(Connecting)
	retriesLeft := s.cfg.RetryAttempts

	// retry transitions to Reconnecting and waits out the delay. Returns
	// false when the budget is exhausted or the loop was stopped.
	retry := func(reason error) bool {
		if retriesLeft <= 0 {
			s.logger.Warn("stream retries exhausted",
				zap.String("stream", s.name), zap.Error(reason))
			// Retire before reporting Failed: anyone reacting to the
			// status change can restart immediately.
			s.retire(gen)
			_ = s.machine.Transition(Failed)
			return false
		}
		retriesLeft--
		_ = s.machine.Transition(Reconnecting)
		s.logger.Info("stream retrying",
			zap.String("stream", s.name),
			zap.Int("retries_left", retriesLeft),
			zap.Error(reason))
		select {
		case <-time.After(s.cfg.RetryDelay):
			return true
		case <-ctx.Done():
			s.settle()
			return false
		}
	}

	for {
		if ctx.Err() != nil || !s.isAlive() {
			s.settle()
			return
		}

		st, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil || !s.isAlive() {
				s.settle()
				return
			}
			if !retry(err) {
				return
			}
			continue
		}
		s.setCurrent(st)
		_ = s.machine.Transition(Connected)
		s.logger.Info("stream connected", zap.String("stream", s.name))
		// A successful connection restores the full budget; only
		// consecutive failures count toward exhaustion.
		retriesLeft = s.cfg.RetryAttempts

		for {
			item, err := st.Next(ctx)
			if err != nil {
				s.setCurrent(nil)
				if closeErr := st.Close(); closeErr != nil {
					s.logger.Debug("stream close after read failure",
						zap.String("stream", s.name), zap.Error(closeErr))
				}
				// A read failing after the session went away is expected.
				if ctx.Err() != nil || !s.isAlive() {
					s.settle()
					return
				}
				if !retry(err) {
					return
				}
				break
			}
			s.handle(item)
		}
	}
}

// settle moves a cooperatively stopped loop to Disconnected. A loop that
// already failed stays Failed; the transition map rejects that move.
func (s *Supervisor[T]) settle() {
	_ = s.machine.Transition(Disconnected)
}
