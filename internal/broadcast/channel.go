package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 16

// Errors
var (
	ErrClosed = errors.New("broadcast: channel closed")
	ErrEmpty  = errors.New("broadcast: nothing pending")
	ErrLagged = errors.New("broadcast: subscriber lagged")
)

// LaggedError reports how many values a subscriber missed to eviction.
// It matches ErrLagged with errors.Is.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, missed %d messages", e.Missed)
}

// Is makes errors.Is(err, ErrLagged) true for any *LaggedError.
func (e *LaggedError) Is(target error) bool {
	return target == ErrLagged
}

// Channel is a bounded multi-producer, multi-consumer broadcast ring.
type Channel[T any] struct {
	mu       sync.Mutex
	buf      []T
	capacity uint64
	tail     uint64        // sequence number of the next publish
	notify   chan struct{} // closed and replaced on every publish
	closed   bool

	// Stats
	subscribers int
	lagEvents   int64
}

// Stats contains channel statistics.
type Stats struct {
	Capacity    int
	Retained    int
	Published   uint64
	Subscribers int
	LagEvents   int64
}

// NewChannel creates a channel that retains the last capacity values.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Channel[T]{
		buf:      make([]T, capacity),
		capacity: uint64(capacity),
		notify:   make(chan struct{}),
	}
}

// Publish appends v to the ring and wakes every waiting subscriber.
// It returns the number of subscribers at publish time, or 0 if closed.
func (c *Channel[T]) Publish(v T) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}

	c.buf[c.tail%c.capacity] = v
	c.tail++

	close(c.notify)
	c.notify = make(chan struct{})

	return c.subscribers
}

// Subscribe returns a subscription whose cursor starts after the last
// published value.
func (c *Channel[T]) Subscribe() *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribers++
	return &Subscription[T]{
		ch:     c,
		cursor: c.tail,
	}
}

// Close wakes all waiters. Subsequent publishes are dropped and subscribers
// get ErrClosed once they have drained what is retained.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
}

// Stats returns channel statistics.
func (c *Channel[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Capacity:    int(c.capacity),
		Retained:    int(c.tail - c.oldest()),
		Published:   c.tail,
		Subscribers: c.subscribers,
		LagEvents:   c.lagEvents,
	}
}

// oldest returns the sequence number of the oldest retained value.
// Must be called with lock held.
func (c *Channel[T]) oldest() uint64 {
	if c.tail > c.capacity {
		return c.tail - c.capacity
	}
	return 0
}

// Subscription is one consumer's cursor into a Channel.
// A Subscription must not be used from more than one goroutine at a time.
type Subscription[T any] struct {
	ch       *Channel[T]
	cursor   uint64
	released bool
}

// Poll returns the next value without blocking.
//
// When nothing is pending it returns ErrEmpty together with a channel that is
// closed by the next Publish or Close, so callers can select on it alongside
// other sources. Lag is reported the same way as in Next.
func (s *Subscription[T]) Poll() (T, <-chan struct{}, error) {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T

	if s.released {
		return zero, nil, ErrClosed
	}

	if oldest := c.oldest(); s.cursor < oldest {
		missed := oldest - s.cursor
		s.cursor = oldest
		c.lagEvents++
		return zero, nil, &LaggedError{Missed: missed}
	}

	if s.cursor < c.tail {
		v := c.buf[s.cursor%c.capacity]
		s.cursor++
		return v, nil, nil
	}

	if c.closed {
		return zero, nil, ErrClosed
	}

	return zero, c.notify, ErrEmpty
}

// Next blocks until the next value is available, ctx is done, or the channel
// closes. A *LaggedError means values were evicted before this subscriber
// read them; the following call resumes at the oldest retained value.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	for {
		v, wait, err := s.Poll()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Pending returns how many retained values this subscriber has not read.
func (s *Subscription[T]) Pending() int {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	start := s.cursor
	if oldest := c.oldest(); start < oldest {
		start = oldest
	}
	return int(c.tail - start)
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.released {
		return
	}
	s.released = true
	c.subscribers--
}
