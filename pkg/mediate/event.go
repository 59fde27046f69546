package mediate

import (
	"time"

	"github.com/google/uuid"
)

// Unit is the result of an event pipeline.
type Unit = struct{}

// Event is a feature with an identifier and any number of handlers.
type Event interface {
	EventID() string
}

// BaseEvent can be embedded to satisfy Event.
type BaseEvent struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBaseEvent returns a BaseEvent with a random UUID and the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		OccurredAt: time.Now().UTC(),
	}
}

// EventID implements Event.
func (e BaseEvent) EventID() string { return e.ID }
