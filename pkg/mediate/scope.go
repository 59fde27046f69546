package mediate

import "context"

// Scope is a resource held for one pipeline execution, such as a unit of
// work. Release receives the pipeline's outcome: nil on success, the
// failure otherwise, or a *PanicError.
type Scope interface {
	Release(ctx context.Context, outcome error) error
}

// ScopeFactory acquires a Scope before a pipeline runs.
type ScopeFactory func(ctx context.Context) (Scope, error)

type noopScope struct{}

func (noopScope) Release(context.Context, error) error { return nil }

// NoopScope is the scope used when no ScopeFactory is configured.
var NoopScope Scope = noopScope{}
