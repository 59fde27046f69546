package mediate

import (
	"context"
	"log/slog"
)

// Context is passed to every behavior and handler of one pipeline
// execution. It extends context.Context with dispatch metadata.
type Context interface {
	context.Context

	// Logger returns a logger enriched with request_id, feature and attempt.
	// Never nil.
	Logger() *slog.Logger

	// Scope returns the per-execution scope. Never nil.
	Scope() Scope

	// RequestID returns the ULID assigned to this execution.
	RequestID() string

	// Feature returns the request or event type name.
	Feature() string

	// Attempt returns the delivery attempt (1 = first).
	Attempt() int
}

type dispatchContext struct {
	context.Context

	logger    *slog.Logger
	scope     Scope
	requestID string
	feature   string
	attempt   int
}

func (c *dispatchContext) Logger() *slog.Logger { return c.logger }
func (c *dispatchContext) Scope() Scope         { return c.scope }
func (c *dispatchContext) RequestID() string    { return c.requestID }
func (c *dispatchContext) Feature() string      { return c.feature }
func (c *dispatchContext) Attempt() int         { return c.attempt }

// WithContext returns a copy of c that uses std for cancellation,
// deadlines and values. Behaviors use it to pass a derived context
// (timeouts, spans) down the chain.
func WithContext(c Context, std context.Context) Context {
	return derive(c, std)
}

// WithContextLogger returns a copy of c whose Logger is logger.
func WithContextLogger(c Context, logger *slog.Logger) Context {
	if logger == nil {
		return c
	}
	dc := derive(c, c)
	dc.logger = logger
	return dc
}

func derive(c Context, std context.Context) *dispatchContext {
	return &dispatchContext{
		Context:   std,
		logger:    c.Logger(),
		scope:     c.Scope(),
		requestID: c.RequestID(),
		feature:   c.Feature(),
		attempt:   c.Attempt(),
	}
}

type attemptKey struct{}

// WithAttempt records the delivery attempt on ctx. The listener sets it
// before each redelivery so handlers can see Context.Attempt.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

func attemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}
