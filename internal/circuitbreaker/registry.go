package circuitbreaker

import (
	"time"
)

// BreakerStatus is a point-in-time view of one backend's breaker.
type BreakerStatus struct {
	Backend   string    `json:"backend"`
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	NextRetry time.Time `json:"next_retry,omitzero"`
}

// Registry holds one breaker per backend, index-aligned with the backend
// list it was built from. Breakers live as long as the registry.
type Registry struct {
	names    []string
	breakers []*CircuitBreaker
	byName   map[string]*CircuitBreaker
}

func NewRegistry(names []string, threshold int, cooldown time.Duration, opts ...Option) *Registry {
	r := &Registry{
		names:    make([]string, len(names)),
		breakers: make([]*CircuitBreaker, len(names)),
		byName:   make(map[string]*CircuitBreaker, len(names)),
	}
	copy(r.names, names)

	for i, name := range names {
		cb := NewCircuitBreaker(threshold, cooldown, opts...)
		r.breakers[i] = cb
		r.byName[name] = cb
	}
	return r
}

// At returns the breaker for the i-th backend.
func (r *Registry) At(i int) *CircuitBreaker {
	return r.breakers[i]
}

func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	cb, ok := r.byName[name]
	return cb, ok
}

func (r *Registry) Len() int {
	return len(r.breakers)
}

func (r *Registry) Stats() map[string]State {
	stats := make(map[string]State, len(r.breakers))
	for i, cb := range r.breakers {
		stats[r.names[i]] = cb.State()
	}
	return stats
}

// Snapshot returns breaker states in backend order.
func (r *Registry) Snapshot() []BreakerStatus {
	out := make([]BreakerStatus, 0, len(r.breakers))
	for i, cb := range r.breakers {
		st := BreakerStatus{
			Backend:  r.names[i],
			State:    cb.State(),
			Failures: cb.Failures(),
		}
		if st.State == StateOpen {
			st.NextRetry = cb.NextRetry()
		}
		out = append(out, st)
	}
	return out
}
