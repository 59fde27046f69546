// Package deadletter records events that could not be delivered within
// their retry budget.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/mediate/pkg/mediate/config"
)

// Sentinel errors.
var (
	// ErrExists indicates a record for the event id already exists and
	// overwriting is disabled.
	ErrExists = errors.New("deadletter: record already exists")

	// ErrNotFound indicates no record exists for the event id.
	ErrNotFound = errors.New("deadletter: record not found")

	// ErrInvalidID indicates the event id cannot be used as a record key.
	ErrInvalidID = errors.New("deadletter: invalid event id")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("deadletter: store closed")
)

// Letter is an event that exhausted its retries.
type Letter struct {
	EventID   string
	EventType string
	Event     any

	// Err is the last delivery failure.
	Err error

	// Attempts is how many deliveries failed.
	Attempts int

	At time.Time
}

// Strategy handles dead letters. The listener calls DeadLetter exactly
// once per exhausted event.
type Strategy interface {
	DeadLetter(ctx context.Context, letter Letter) error
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, letter Letter) error

// DeadLetter implements Strategy.
func (f StrategyFunc) DeadLetter(ctx context.Context, letter Letter) error {
	return f(ctx, letter)
}

// NoAction discards dead letters.
type NoAction struct{}

// DeadLetter implements Strategy.
func (NoAction) DeadLetter(context.Context, Letter) error { return nil }

// Open builds the strategy selected by s. Strategies holding resources
// implement io.Closer.
func Open(s config.DeadLetterSettings) (Strategy, error) {
	switch s.Strategy {
	case "", config.DeadLetterNone:
		return NoAction{}, nil
	case config.DeadLetterFile:
		f, err := NewFile(s.Directory)
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.DeadLetterSQLite:
		db, err := NewSQLite(s.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("deadletter: unknown strategy %q", s.Strategy)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
