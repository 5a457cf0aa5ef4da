package ledger

import (
	"sync"
	"time"
)

type DeliveryStatus string

const (
	StatusSent        DeliveryStatus = "sent"
	StatusDuplicate   DeliveryStatus = "duplicate"
	StatusRateLimited DeliveryStatus = "rate_limited"
	StatusFailed      DeliveryStatus = "failed"
)

// Record is the latest known outcome for one message ID. Backend and Error
// are nil when not applicable.
type Record struct {
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Backend   *string        `json:"backend"`
	Error     *string        `json:"error"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Status maps message IDs to their latest Record.
type Status struct {
	mutex   sync.RWMutex
	records map[string]Record
}

func NewStatus() *Status {
	return &Status{
		records: make(map[string]Record),
	}
}

// Record overwrites whatever was stored for id.
func (l *Status) Record(id string, rec Record) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.records[id] = rec
}

func (l *Status) Lookup(id string) (Record, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	rec, ok := l.records[id]
	return rec, ok
}

func (l *Status) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.records)
}

// Ptr returns a pointer to s, or nil for the empty string.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
