// Package queue provides a fixed-capacity FIFO buffer with blocking
// enqueue and dequeue, used as the hand-off point between event producers
// and the listener.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultCapacity is used when Config.Capacity is zero.
const DefaultCapacity = 50

// ErrFull is returned by Enqueue in FullModeFail when no slot is free.
var ErrFull = errors.New("queue: full")

// FullMode decides what Enqueue does when the queue has no free slot.
type FullMode int

const (
	// FullModeWait suspends the producer until a slot frees or its context ends.
	FullModeWait FullMode = iota

	// FullModeFail returns ErrFull immediately.
	FullModeFail
)

// String returns the config name of the mode.
func (m FullMode) String() string {
	switch m {
	case FullModeWait:
		return "wait"
	case FullModeFail:
		return "fail"
	default:
		return fmt.Sprintf("FullMode(%d)", int(m))
	}
}

// ParseFullMode converts "wait" or "fail" (case-insensitive) into a FullMode.
// An empty string yields FullModeWait.
func ParseFullMode(s string) (FullMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return FullModeWait, nil
	case "fail":
		return FullModeFail, nil
	default:
		return 0, fmt.Errorf("queue: unknown full mode %q", s)
	}
}

// Config configures a Bounded queue.
type Config struct {
	// Capacity is the fixed number of slots. Zero means DefaultCapacity.
	Capacity int

	// FullMode selects backpressure (Wait) or fail-fast (Fail).
	FullMode FullMode
}

// Bounded is a FIFO queue with a capacity fixed at construction.
// It is safe for any number of concurrent producers and consumers; each
// item is delivered to exactly one Dequeue call.
type Bounded[T any] struct {
	items chan T
	mode  FullMode
}

// New creates a queue from cfg.
func New[T any](cfg Config) (*Bounded[T], error) {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 1 {
		return nil, fmt.Errorf("queue: capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.FullMode != FullModeWait && cfg.FullMode != FullModeFail {
		return nil, fmt.Errorf("queue: invalid full mode %v", cfg.FullMode)
	}
	return &Bounded[T]{
		items: make(chan T, capacity),
		mode:  cfg.FullMode,
	}, nil
}

// Enqueue appends v. In FullModeWait it blocks while the queue is full
// and returns ctx.Err() if ctx ends first; in FullModeFail it returns
// ErrFull instead of blocking.
func (q *Bounded[T]) Enqueue(ctx context.Context, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if q.mode == FullModeFail {
		if !q.TryEnqueue(v) {
			return ErrFull
		}
		return nil
	}

	select {
	case q.items <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue appends v without blocking, regardless of the full mode.
// It reports whether v was accepted.
func (q *Bounded[T]) TryEnqueue(v T) bool {
	select {
	case q.items <- v:
		return true
	default:
		return false
	}
}

// Dequeue removes the oldest item, blocking while the queue is empty.
// It returns ctx.Err() if ctx ends first, even when items are waiting.
func (q *Bounded[T]) Dequeue(ctx context.Context) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	select {
	case v := <-q.items:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryDequeue removes the oldest item without blocking.
func (q *Bounded[T]) TryDequeue() (T, bool) {
	select {
	case v := <-q.items:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered items.
func (q *Bounded[T]) Len() int { return len(q.items) }

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int { return cap(q.items) }

// Mode returns the configured full mode.
func (q *Bounded[T]) Mode() FullMode { return q.mode }
