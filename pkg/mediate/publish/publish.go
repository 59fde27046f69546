// Package publish fans one event out to all of its handlers.
//
// Neither strategy stops at the first failure: every handler runs, and
// the failures are collected into an *AggregateError ordered by handler
// index.
package publish

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrHandlerPanic is wrapped by the error reported for a handler that panicked.
var ErrHandlerPanic = errors.New("publish: handler panicked")

// Handler delivers one event to one subscriber.
type Handler func(ctx context.Context, evt any) error

// Strategy decides how the handlers of one event are run.
type Strategy interface {
	Publish(ctx context.Context, evt any, handlers []Handler) error
}

// HandlerError records which handler failed.
type HandlerError struct {
	// Index is the handler's position in registration order.
	Index int
	Err   error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// AggregateError carries every handler failure of one publish.
type AggregateError struct {
	// Errors holds one *HandlerError per failed handler, in handler order.
	Errors []error

	// Handlers is how many handlers ran.
	Handlers int
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("publish: %d of %d handlers failed: %s",
		len(e.Errors), e.Handlers, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// aggregate builds the result from per-handler slots; nil slots succeeded.
func aggregate(results []error) error {
	var failed []error
	for i, err := range results {
		if err != nil {
			failed = append(failed, &HandlerError{Index: i, Err: err})
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &AggregateError{Errors: failed, Handlers: len(results)}
}

// call runs h, converting a panic into an error.
func call(ctx context.Context, h Handler, evt any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return h(ctx, evt)
}

// Sequential runs handlers one at a time in registration order.
type Sequential struct{}

var _ Strategy = Sequential{}

// Publish implements Strategy.
func (Sequential) Publish(ctx context.Context, evt any, handlers []Handler) error {
	results := make([]error, len(handlers))
	for i, h := range handlers {
		results[i] = call(ctx, h, evt)
	}
	return aggregate(results)
}

// Parallel runs handlers concurrently and waits for all of them.
type Parallel struct {
	// MaxConcurrency caps the number of handlers running at once.
	// Zero or negative means no limit.
	MaxConcurrency int
}

var _ Strategy = Parallel{}

// Publish implements Strategy.
func (p Parallel) Publish(ctx context.Context, evt any, handlers []Handler) error {
	results := make([]error, len(handlers))

	// A plain Group: a failing handler must not cancel its siblings.
	var g errgroup.Group
	if p.MaxConcurrency > 0 {
		g.SetLimit(p.MaxConcurrency)
	}
	for i, h := range handlers {
		g.Go(func() error {
			results[i] = call(ctx, h, evt)
			return nil
		})
	}
	_ = g.Wait()

	return aggregate(results)
}

// New returns the strategy for a config name ("sequential" or "parallel").
func New(name string, maxConcurrency int) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "sequential":
		return Sequential{}, nil
	case "parallel":
		return Parallel{MaxConcurrency: maxConcurrency}, nil
	default:
		return nil, fmt.Errorf("publish: unknown strategy %q", name)
	}
}
