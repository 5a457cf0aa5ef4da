package backend

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Message is the unit of delivery. ID is caller-supplied and identifies the
// message for idempotency; the other fields are opaque to the dispatcher.
type Message struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate only checks what the dispatcher relies on: a non-empty ID.
func (m Message) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.ID, validation.Required),
	)
}

// Backend is a named delivery capability.
type Backend interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Names returns backend names in order.
func Names(backends []Backend) []string {
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	return names
}
