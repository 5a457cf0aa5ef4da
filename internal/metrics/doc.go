// Package metrics collects delivery metrics for the dispatcher.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Send attempts, successes and failures per backend
//   - Backends skipped because their circuit breaker was open
//   - Send latency with percentile calculations (P50, P95, P99)
//   - Terminal outcome counts (sent, duplicate, rate_limited, failed)
//   - Last observed breaker state per backend
//
// The collector runs in its own goroutine. Producers use Emit, which never
// blocks: when the buffer is full the event is dropped so the dispatch
// worker is never slowed down by metrics.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	metrics.Emit(collector.EventChannel(), metrics.MetricEvent{
//		Type:     metrics.EventSendSucceeded,
//		Backend:  "primary",
//		Duration: 150 * time.Millisecond,
//	})
//
//	snapshot := collector.Snapshot()
//
// Pending events are drained when the context is cancelled.
package metrics
