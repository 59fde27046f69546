// Package listener delivers queued events to their handlers in the
// background.
//
// A Listener is the single consumer of an EventQueue. A failed delivery
// is retried according to the configured Action until the event has
// failed MaxRetries+1 times; the event is then handed to the dead-letter
// strategy exactly once and removed. Failures never stop the loop.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate"
	"github.com/randalmurphal/mediate/pkg/mediate/deadletter"
	mederrors "github.com/randalmurphal/mediate/pkg/mediate/errors"
	"github.com/randalmurphal/mediate/pkg/mediate/observability"
)

// ErrRunning is returned by Run when the listener is already running.
var ErrRunning = errors.New("listener: already running")

// State is the listener's current activity.
type State int32

const (
	// Idle means the listener is waiting for the next event.
	Idle State = iota
	Dispatching
	Retrying
	DeadLettering

	// Stopped means Run has returned.
	Stopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Retrying:
		return "retrying"
	case DeadLettering:
		return "dead_lettering"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats counts what the listener has done with dequeued events.
type Stats struct {
	Delivered    int64 // events whose delivery eventually succeeded
	Retried      int64 // redeliveries scheduled
	DeadLettered int64 // events handed to the dead-letter strategy
	Dropped      int64 // events discarded by the Drop action
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger. Defaults to the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the recorder for retries, dead letters and queue
// depth. Defaults to the dispatcher's recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(l *Listener) {
		if m != nil {
			l.metrics = m
		}
	}
}

// Listener consumes an EventQueue and publishes each event through a
// Dispatcher.
type Listener struct {
	dispatcher *mediate.Dispatcher
	queue      *mediate.EventQueue
	deadLetter deadletter.Strategy
	cfg        Config
	logger     *slog.Logger
	metrics    observability.MetricsRecorder

	state   atomic.Int32
	running atomic.Bool

	delivered    atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	dropped      atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a listener. A nil dead-letter strategy discards exhausted
// events.
func New(
	d *mediate.Dispatcher,
	q *mediate.EventQueue,
	dl deadletter.Strategy,
	cfg Config,
	opts ...Option,
) *Listener {
	if dl == nil {
		dl = deadletter.NoAction{}
	}
	l := &Listener{
		dispatcher: d,
		queue:      q,
		deadLetter: dl,
		cfg:        cfg.withDefaults(),
		logger:     d.Logger(),
		metrics:    d.Metrics(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns what the listener is doing right now.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of the listener's counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Delivered:    l.delivered.Load(),
		Retried:      l.retried.Load(),
		DeadLettered: l.deadLettered.Load(),
		Dropped:      l.dropped.Load(),
	}
}

// Run consumes events until ctx is done. No event is dequeued once ctx
// is done. An event already dequeued is still carried to success, dead
// letter or drop before Run returns; it is retried in place instead of
// being moved back to the queue.
func (l *Listener) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)
	defer l.setState(Stopped)

	for {
		l.setState(Idle)
		l.metrics.RecordQueueDepth(ctx, l.queue.Len())

		env, err := l.queue.Dequeue(ctx)
		if err != nil {
			return nil
		}
		l.process(ctx, env)
	}
}

// Start runs the listener in a new goroutine. Calling Start more than
// once has no effect.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go func() {
		defer close(l.done)
		if err := l.Run(ctx); err != nil {
			l.logger.Error("listener stopped", slog.String("error", err.Error()))
		}
	}()
}

// Stop halts a started listener and waits for the in-flight event.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-l.done
}

// Done is closed when a started listener has stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
}

// process drives one envelope to a terminal outcome: delivered, moved
// to the back of the queue, dropped or dead-lettered. Deliveries run on
// a context detached from stop; once stop is done the envelope is no
// longer moved back to the queue.
func (l *Listener) process(stop context.Context, env mediate.Envelope) {
	ctx := context.WithoutCancel(stop)
	eventType := mediate.EventType(env.Event)
	eventID := env.Event.EventID()

	for {
		l.setState(Dispatching)
		err := l.dispatch(ctx, env)
		if err == nil {
			l.delivered.Add(1)
			return
		}
		env.Attempts++

		if l.cfg.Action == Drop {
			l.dropped.Add(1)
			l.metrics.RecordRetry(ctx, eventType, Drop.String())
			observability.LogEventDropped(l.logger, eventID, err)
			return
		}

		if env.Attempts > l.cfg.MaxRetries || l.skipRetries(err) {
			l.sendDeadLetter(ctx, env, err)
			return
		}

		l.setState(Retrying)
		l.retried.Add(1)
		l.metrics.RecordRetry(ctx, eventType, l.cfg.Action.String())
		observability.LogEventRetry(l.logger, eventID, env.Attempts, l.cfg.Action.String(), err)

		switch l.cfg.Action {
		case MoveLast:
			if stop.Err() == nil && l.queue.Requeue(env) {
				return
			}
			// Stopping, or the queue is full: retry in place rather than
			// leave the event behind or block on ourselves.
			l.logger.Debug("retrying in place", slog.String("event_id", eventID))
		case Backoff:
			time.Sleep(l.cfg.backoffDelay(env.Attempts))
		}
	}
}

// skipRetries reports whether err cannot succeed on redelivery. Validation
// and configuration failures never can; other permanent failures only
// count when Config.DeadLetterPermanent is set.
func (l *Listener) skipRetries(err error) bool {
	if l.cfg.DeadLetterPermanent && mederrors.Categorize(err) == mederrors.CategoryPermanent {
		return true
	}
	return unretryable(err)
}

// unretryable reports whether err, or every member of a joined err, is a
// validation or configuration failure.
func unretryable(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		members := joined.Unwrap()
		if len(members) == 0 {
			return false
		}
		for _, m := range members {
			if m == nil || !unretryable(m) {
				return false
			}
		}
		return true
	}

	switch err.(type) {
	case *mediate.ValidationError, *mediate.ConfigurationError:
		return true
	}
	if inner := errors.Unwrap(err); inner != nil {
		return unretryable(inner)
	}
	return false
}

// dispatch publishes one delivery attempt of env.
func (l *Listener) dispatch(ctx context.Context, env mediate.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener: publish panicked: %v", r)
		}
	}()
	return l.dispatcher.Publish(mediate.WithAttempt(ctx, env.Attempts+1), env.Event)
}

// sendDeadLetter hands env to the dead-letter strategy. Strategy failures
// are logged and recorded; the event is removed either way.
func (l *Listener) sendDeadLetter(ctx context.Context, env mediate.Envelope, cause error) {
	l.setState(DeadLettering)
	l.deadLettered.Add(1)

	eventType := mediate.EventType(env.Event)
	eventID := env.Event.EventID()
	observability.LogDeadLetter(l.logger, eventID, env.Attempts, cause)

	err := l.invokeDeadLetter(ctx, deadletter.Letter{
		EventID:   eventID,
		EventType: eventType,
		Event:     env.Event,
		Err:       cause,
		Attempts:  env.Attempts,
		At:        time.Now(),
	})
	if err != nil {
		observability.LogDeadLetterError(l.logger, eventID, err)
	}
	l.metrics.RecordDeadLetter(ctx, eventType, err)
}

func (l *Listener) invokeDeadLetter(ctx context.Context, letter deadletter.Letter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener: dead-letter strategy panicked: %v", r)
		}
	}()
	return l.deadLetter.DeadLetter(ctx, letter)
}
