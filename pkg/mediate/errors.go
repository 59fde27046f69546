package mediate

import (
	"errors"
	"fmt"
	"strings"

	mederrors "github.com/randalmurphal/mediate/pkg/mediate/errors"
)

// Sentinel errors wrapped by *ConfigurationError.
var (
	// ErrNoHandler indicates no handler is registered for the request type.
	ErrNoHandler = errors.New("no handler registered")

	// ErrAmbiguousHandler indicates more than one handler is registered for the request type.
	ErrAmbiguousHandler = errors.New("multiple handlers registered")

	// ErrResultType indicates the caller's result type does not match the registration.
	ErrResultType = errors.New("result type mismatch")

	// ErrNilFeature indicates a nil request or event was dispatched.
	ErrNilFeature = errors.New("nil request or event")
)

// ErrNilContext indicates Send or Publish was called with a nil context.
var ErrNilContext = errors.New("context cannot be nil")

// ConfigurationError reports a registration problem detected at dispatch.
// It is never retried.
type ConfigurationError struct {
	// Feature is the request or event type name.
	Feature string
	// Handlers is how many handlers were found.
	Handlers int
	// Err is one of the sentinel errors above.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mediate: %s: %v (handlers: %d)", e.Feature, e.Err, e.Handlers)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ErrorCategory marks configuration errors as permanent.
func (e *ConfigurationError) ErrorCategory() mederrors.Category {
	return mederrors.CategoryPermanent
}

// FieldFailure is one failed validation rule.
type FieldFailure struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationError is returned when a request fails validation.
// The handler does not run.
type ValidationError struct {
	Feature  string
	Failures []FieldFailure
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Feature, strings.Join(parts, "; "))
}

// ErrorCategory marks validation errors as permanent.
func (e *ValidationError) ErrorCategory() mederrors.Category {
	return mederrors.CategoryPermanent
}

// InternalError replaces an unexpected fault when the exception-handling
// behavior is installed. It deliberately does not unwrap to the fault.
type InternalError struct {
	Feature   string
	RequestID string
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error handling %s (request %s)", e.Feature, e.RequestID)
}

// Failure is a typed business failure returned by a handler.
type Failure struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Failure) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ErrorCategory marks business failures as permanent.
func (e *Failure) ErrorCategory() mederrors.Category {
	return mederrors.CategoryPermanent
}

// NewFailure creates a typed business failure.
func NewFailure(code, message string) *Failure {
	return &Failure{Code: code, Message: message}
}

// PanicError wraps a panic raised inside a pipeline.
type PanicError struct {
	Feature string
	Value   any
	Stack   string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Feature, e.Value)
}

// IsTypedFailure reports whether err (or anything it wraps) is one of the
// typed failures that pass through the exception-handling behavior
// unchanged.
func IsTypedFailure(err error) bool {
	var (
		ve *ValidationError
		ce *ConfigurationError
		ie *InternalError
		fe *Failure
	)
	return errors.As(err, &ve) || errors.As(err, &ce) ||
		errors.As(err, &ie) || errors.As(err, &fe)
}
