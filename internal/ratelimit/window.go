package ratelimit

import (
	"sync"
	"time"
)

// DefaultSpan is the rolling window length.
const DefaultSpan = time.Minute

// Window keeps the timestamps of successful sends inside the trailing span.
// Timestamps are pruned lazily on every admission check.
type Window struct {
	mutex      sync.Mutex
	quota      int
	span       time.Duration
	timestamps []time.Time
}

func NewWindow(quota int, span time.Duration) *Window {
	if span <= 0 {
		span = DefaultSpan
	}
	return &Window{
		quota: quota,
		span:  span,
	}
}

// TryAdmit prunes expired timestamps and reports whether another send fits
// in the quota. Admission does not reserve budget; call Record on success.
func (w *Window) TryAdmit(now time.Time) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.prune(now)
	return len(w.timestamps) < w.quota
}

// Record adds a successful send.
func (w *Window) Record(ts time.Time) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.timestamps = append(w.timestamps, ts)
}

// Len returns how many sends currently count against the quota.
func (w *Window) Len(now time.Time) int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	n := 0
	for _, ts := range w.timestamps {
		if now.Sub(ts) < w.span {
			n++
		}
	}
	return n
}

func (w *Window) Quota() int {
	return w.quota
}

func (w *Window) prune(now time.Time) {
	keep := 0
	for _, ts := range w.timestamps {
		if now.Sub(ts) < w.span {
			w.timestamps[keep] = ts
			keep++
		}
	}
	w.timestamps = w.timestamps[:keep]
}
