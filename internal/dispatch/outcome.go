package dispatch

import (
	"context"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/ledger"
)

// Message is what callers submit.
type Message = backend.Message

// Outcome is the terminal result of processing one message.
type Outcome struct {
	ID       string                `json:"id"`
	Status   ledger.DeliveryStatus `json:"status"`
	Backend  string                `json:"backend,omitempty"`
	Attempts int                   `json:"attempts"`
	Message  string                `json:"message,omitempty"`
}

// Pending is the handle returned by Submit. It is resolved exactly once by
// the worker.
type Pending struct {
	id      string
	done    chan struct{}
	outcome Outcome
	err     error
}

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

func (p *Pending) ID() string {
	return p.id
}

// Done is closed once the outcome is known.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the message is resolved or ctx ends. Giving up on the
// wait does not cancel processing; the message still runs to completion.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, p.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (p *Pending) resolve(outcome Outcome, err error) {
	p.outcome = outcome
	p.err = err
	close(p.done)
}
