package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLagged is reported by Subscription.Recv when the subscriber fell behind
// and the ring dropped entries. The subscriber should resync from
// authoritative state; subsequent receives resume with the retained items.
var ErrLagged = errors.New("broadcast: subscriber lagged")

// ErrClosed is returned by Recv after the topic or subscription is closed.
var ErrClosed = errors.New("broadcast: closed")

// LagError carries the number of dropped messages. errors.Is(err, ErrLagged)
// matches it.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, missed %d messages", e.Missed)
}

func (e *LagError) Is(target error) bool { return target == ErrLagged }

// Topic is a multi-consumer broadcast channel. Every subscriber receives
// every message published after it subscribed, independent of other
// subscribers' consumption speed. Publishing never blocks: a full subscriber
// ring drops its oldest entry and the loss surfaces as a LagError on that
// subscriber's next Recv.
type Topic[T any] struct {
	mu       sync.Mutex
	subs     map[*Subscription[T]]struct{}
	capacity int
	closed   bool
}

// NewTopic creates a broadcast topic whose subscribers buffer up to capacity
// messages each.
func NewTopic[T any](capacity int) *Topic[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Topic[T]{
		subs:     make(map[*Subscription[T]]struct{}),
		capacity: capacity,
	}
}

// Subscribe registers a new subscriber. It only sees messages published after
// this call. Close the subscription when done.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		topic:  t,
		notify: make(chan struct{}, 1),
	}

	t.mu.Lock()
	if t.closed {
		sub.closed = true
	} else {
		t.subs[sub] = struct{}{}
	}
	t.mu.Unlock()

	return sub
}

// Publish delivers value to all current subscribers, fire-and-forget.
func (t *Topic[T]) Publish(value T) {
	t.mu.Lock()
	subs := make([]*Subscription[T], 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub.push(value, t.capacity)
	}
}

// Close shuts the topic down; pending buffered messages remain receivable.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	subs := make([]*Subscription[T], 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[*Subscription[T]]struct{})
	t.closed = true
	t.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Subscription is one consumer's view of a Topic.
type Subscription[T any] struct {
	topic *Topic[T]

	mu     sync.Mutex
	buf    []T
	missed uint64
	closed bool

	notify chan struct{}
}

func (s *Subscription[T]) push(value T, capacity int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= capacity {
		// Drop oldest; the subscriber learns via LagError.
		s.buf = s.buf[1:]
		s.missed++
	}
	s.buf = append(s.buf, value)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close removes the subscription from its topic.
func (s *Subscription[T]) Close() {
	s.topic.mu.Lock()
	delete(s.topic.subs, s)
	s.topic.mu.Unlock()
	s.close()
}

// Recv blocks until a message is available, the subscription lags, the
// subscription closes, or ctx is done. A *LagError result means entries were
// dropped; the retained backlog is still delivered by later calls.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if s.missed > 0 {
			n := s.missed
			s.missed = 0
			s.mu.Unlock()
			return zero, &LagError{Missed: n}
		}
		if len(s.buf) > 0 {
			value := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return value, nil
		}
		if s.closed {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.notify:
		}
	}
}
