package tracks

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is returned (wrapped in *InvalidEventError) when an event
// cannot be placed in the index because a required field is missing.
var ErrInvalidEvent = errors.New("invalid event")

// Field names reported by InvalidEventError.
const (
	FieldTrack = "track"
	FieldStart = "start"
)

// InvalidEventError describes the first event that made Build fail.
type InvalidEventError struct {
	// Position is the event's index in the input slice.
	Position int
	// ID is the event identifier, possibly empty.
	ID string
	// Field is the missing field (FieldTrack or FieldStart).
	Field string
}

func (e *InvalidEventError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("tracks: %s: event at position %d has no %s", ErrInvalidEvent, e.Position, e.Field)
	}
	return fmt.Sprintf("tracks: %s: event %q (position %d) has no %s", ErrInvalidEvent, e.ID, e.Position, e.Field)
}

func (e *InvalidEventError) Unwrap() error {
	return ErrInvalidEvent
}
