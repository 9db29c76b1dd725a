package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerNotFound is returned when the target of a send, or the
	// participant a stream is binding to, is not a member of the session
	// (never joined, or already left).
	ErrPeerNotFound = errors.New("peer not found")

	ErrTooManySessions = errors.New("too many sessions")

	ErrTooManyParticipants = errors.New("too many participants in session")

	// ErrRateLimited is returned when a sender exceeds its message rate
	// budget. The message is dropped; no queue is touched.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ValidationError reports a required request field that was missing or empty.
//
// It is surfaced to HTTP callers as a 400; the relay never retries on it.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

func requireField(name, value string) error {
	if value == "" {
		return &ValidationError{Field: name}
	}
	return nil
}
