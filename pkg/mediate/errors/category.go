// Package errors classifies dispatch failures and provides retry helpers.
//
// The package implements a layered error handling approach:
//   - Categorization: decide whether a failed dispatch is worth retrying
//   - Retry: re-run transient failures with exponential backoff
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: timeouts, a dependency that is briefly unavailable.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: validation failures, missing handler registrations.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Categorizer is implemented by errors that know their own category.
type Categorizer interface {
	ErrorCategory() Category
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize determines how an error should be handled.
//
// Errors carrying a category (CategorizedError or a Categorizer) decide for
// themselves. A joined error is permanent only when every member is
// permanent. Cancellation is permanent; anything else is assumed transient.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	switch e := err.(type) {
	case *CategorizedError:
		return e.Category
	case Categorizer:
		return e.ErrorCategory()
	case interface{ Unwrap() []error }:
		members := e.Unwrap()
		if len(members) == 0 {
			return CategoryPermanent
		}
		for _, m := range members {
			if m != nil && Categorize(m) == CategoryTransient {
				return CategoryTransient
			}
		}
		return CategoryPermanent
	}

	switch err {
	case context.Canceled:
		return CategoryPermanent
	case context.DeadlineExceeded:
		return CategoryTransient
	}

	if inner := errors.Unwrap(err); inner != nil {
		return Categorize(inner)
	}

	return CategoryTransient
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
