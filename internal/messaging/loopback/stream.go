package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/converse-im/converse/internal/messaging"
)

// chanStream is a channel-backed messaging.Stream. Delivery is best-effort:
// a consumer that stops reading loses items once the buffer fills, as a
// network subscription would.
type chanStream[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	owner  *client
	remove func()
}

func newChanStream[T any](owner *client) *chanStream[T] {
	return &chanStream[T]{
		ch:    make(chan T, 64),
		done:  make(chan struct{}),
		owner: owner,
	}
}

// offer enqueues an item without blocking the publisher.
func (s *chanStream[T]) offer(item T) {
	select {
	case <-s.done:
	case s.ch <- item:
	default:
	}
}

func (s *chanStream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-s.done:
		return zero, messaging.ErrStreamClosed
	default:
	}
	select {
	case item := <-s.ch:
		return item, nil
	case <-s.done:
		return zero, messaging.ErrStreamClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *chanStream[T]) Close() error {
	// A close racing session teardown is expected; surface it as an error
	// the supervisor swallows.
	if s.owner != nil && s.owner.isClosed() {
		s.shutdown()
		return fmt.Errorf("loopback: close stream: client already closed")
	}
	if !s.shutdown() {
		return messaging.ErrStreamClosed
	}
	return nil
}

// shutdown ends the subscription once; reports whether this call did it.
func (s *chanStream[T]) shutdown() bool {
	first := false
	s.once.Do(func() {
		close(s.done)
		if s.remove != nil {
			s.remove()
		}
		first = true
	})
	return first
}
