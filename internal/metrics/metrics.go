package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	attempts      map[string]int64
	successes     map[string]int64
	failures      map[string]int64
	skipped       map[string]int64
	responseTimes map[string][]time.Duration
	breakerStates map[string]string
	outcomes      map[string]int64
	startTime     time.Time
}

type Snapshot struct {
	TotalMessages int64                     `json:"total_messages"`
	Outcomes      map[string]int64          `json:"outcomes"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Attempts     int64         `json:"attempts"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	Skipped      int64         `json:"skipped"`
	BreakerState string        `json:"breaker_state,omitempty"`
	AvgResponse  time.Duration `json:"avg_response"`
	P50Response  time.Duration `json:"p50_response"`
	P95Response  time.Duration `json:"p95_response"`
	P99Response  time.Duration `json:"p99_response"`
}

func (m *Metrics) IncrementAttempts(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.attempts[backend]++
}

func (m *Metrics) IncrementSkipped(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.skipped[backend]++
}

func (m *Metrics) RecordSend(backend string, duration time.Duration, ok bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if ok {
		m.successes[backend]++
	} else {
		m.failures[backend]++
	}

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)
	if len(m.responseTimes[backend]) > maxSamples {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}
}

func (m *Metrics) RecordOutcome(outcome string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.outcomes[outcome]++
}

func (m *Metrics) UpdateBreakerState(backend, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.breakerStates[backend] = state
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Outcomes: make(map[string]int64, len(m.outcomes)),
		Uptime:   time.Since(m.startTime),
		Backends: make(map[string]BackendMetrics),
	}

	for outcome, n := range m.outcomes {
		snap.Outcomes[outcome] = n
		snap.TotalMessages += n
	}

	allBackends := make(map[string]bool)
	for _, counts := range []map[string]int64{m.attempts, m.successes, m.failures, m.skipped} {
		for backend := range counts {
			allBackends[backend] = true
		}
	}
	for backend := range m.breakerStates {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		bm := BackendMetrics{
			Attempts:     m.attempts[backend],
			Successes:    m.successes[backend],
			Failures:     m.failures[backend],
			Skipped:      m.skipped[backend],
			BreakerState: m.breakerStates[backend],
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		attempts:      make(map[string]int64),
		successes:     make(map[string]int64),
		failures:      make(map[string]int64),
		skipped:       make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		breakerStates: make(map[string]string),
		outcomes:      make(map[string]int64),
		startTime:     time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
