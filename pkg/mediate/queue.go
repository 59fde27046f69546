package mediate

import (
	"context"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate/queue"
)

// Envelope is an event waiting in the queue together with its retry state.
type Envelope struct {
	Event Event

	// Attempts counts failed deliveries so far. It travels with the
	// envelope when the listener moves it to the back of the queue.
	Attempts int

	EnqueuedAt time.Time
}

// EventQueue is the bounded hand-off between event producers and the
// listener.
type EventQueue struct {
	q *queue.Bounded[Envelope]
}

// NewEventQueue creates a queue. A zero Config gives capacity 50 and
// FullModeWait.
func NewEventQueue(cfg queue.Config) (*EventQueue, error) {
	q, err := queue.New[Envelope](cfg)
	if err != nil {
		return nil, err
	}
	return &EventQueue{q: q}, nil
}

// Enqueue submits evt for background delivery. Depending on the full
// mode it blocks until a slot frees (returning ctx.Err() if ctx ends
// first) or returns queue.ErrFull.
func (q *EventQueue) Enqueue(ctx context.Context, evt Event) error {
	if evt == nil {
		return &ConfigurationError{Feature: "<nil>", Err: ErrNilFeature}
	}
	return q.q.Enqueue(ctx, Envelope{Event: evt, EnqueuedAt: time.Now()})
}

// Dequeue blocks until an envelope is available or ctx ends.
func (q *EventQueue) Dequeue(ctx context.Context) (Envelope, error) {
	return q.q.Dequeue(ctx)
}

// Requeue puts env at the back of the queue without blocking and reports
// whether a slot was free.
func (q *EventQueue) Requeue(env Envelope) bool {
	env.EnqueuedAt = time.Now()
	return q.q.TryEnqueue(env)
}

// Len returns the number of queued envelopes.
func (q *EventQueue) Len() int { return q.q.Len() }

// Cap returns the queue capacity.
func (q *EventQueue) Cap() int { return q.q.Cap() }
