package ledger

import "sync"

// Idempotency records message IDs that completed a successful send.
type Idempotency struct {
	mutex     sync.RWMutex
	completed map[string]struct{}
}

func NewIdempotency() *Idempotency {
	return &Idempotency{
		completed: make(map[string]struct{}),
	}
}

func (l *Idempotency) HasCompleted(id string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	_, ok := l.completed[id]
	return ok
}

func (l *Idempotency) MarkCompleted(id string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.completed[id] = struct{}{}
}

func (l *Idempotency) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.completed)
}
