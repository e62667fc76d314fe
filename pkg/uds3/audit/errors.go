package audit

import (
	"fmt"
	"time"
)

// EventError represents an error publishing or reading a Record.
type EventError struct {
	Event     Event     // The event that failed
	Message   string    // Error message
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

// Error implements error interface.
func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.Event.ID(), e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.Event.ID(), e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}
