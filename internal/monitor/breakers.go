package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

// BreakerSource is implemented by *circuitbreaker.Registry.
type BreakerSource interface {
	Snapshot() []circuitbreaker.BreakerStatus
}

// WatchBreakers logs every breaker state change seen between ticks, warns
// about breakers that are still open, and publishes the state to events.
// It returns when ctx is done.
func WatchBreakers(
	ctx context.Context,
	source BreakerSource,
	interval time.Duration,
	events chan<- metrics.MetricEvent,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]circuitbreaker.State)
	for _, st := range source.Snapshot() {
		last[st.Backend] = st.State
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Breaker monitor stopped")
			return

		case now := <-ticker.C:
			for _, st := range source.Snapshot() {
				prev, seen := last[st.Backend]
				last[st.Backend] = st.State

				if !seen || prev != st.State {
					logger.Info("Breaker state observed",
						slog.String("backend", st.Backend),
						slog.String("from", prev.String()),
						slog.String("to", st.State.String()))
					metrics.Emit(events, metrics.MetricEvent{
						Type:      metrics.EventBreakerChanged,
						Timestamp: now,
						Backend:   st.Backend,
						State:     st.State.String(),
					})
				}

				if st.State == circuitbreaker.StateOpen {
					logger.Warn("Backend circuit open",
						slog.String("backend", st.Backend),
						slog.Int("failures", st.Failures),
						slog.Duration("retry_in", max(st.NextRetry.Sub(now), 0)))
				}
			}
		}
	}
}
