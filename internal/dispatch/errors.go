package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMessage is returned by Submit for messages without an ID.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrRateLimited means the message was not attempted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrRetriesExhausted matches every *ExhaustedError.
	ErrRetriesExhausted = errors.New("all backends failed after retries")
	ErrEngineClosed     = errors.New("dispatch engine closed")
)

// ExhaustedError is the final error for a message no backend accepted.
// Last is the most recent backend error and is nil when every backend was
// skipped by its breaker on every attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return ErrRetriesExhausted.Error()
	}
	return fmt.Sprintf("%s: %v", ErrRetriesExhausted, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrRetriesExhausted}
	}
	return []error{ErrRetriesExhausted, e.Last}
}
