// Package dispatch delivers messages through an ordered list of backends.
//
// An Engine owns all dispatch state: the per-backend circuit breakers, the
// rolling rate window, the idempotency ledger and the status ledger. Callers
// Submit messages and receive a Pending handle; a single worker goroutine
// processes submissions one at a time in FIFO order, so no two messages are
// ever in flight together and every ledger update for message N happens
// before message N+1 starts.
//
// Per message the worker:
//
//  1. returns "duplicate" if the ID was already delivered,
//  2. rejects with ErrRateLimited if the rolling window is full,
//  3. tries each backend in configured order, skipping backends whose breaker
//     is open, for up to MaxRetries rounds with exponential backoff between
//     rounds,
//  4. fails with an *ExhaustedError carrying the last backend error.
//
// Backend order is failover priority: earlier backends are always preferred.
package dispatch
