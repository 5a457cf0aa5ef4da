// Package ledger keeps the dispatcher's in-memory bookkeeping: which message
// IDs were delivered (idempotency) and the latest outcome per message ID
// (status). Both are last-write-wins maps and live only for the process.
package ledger
