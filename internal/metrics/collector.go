package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventAttempt        EventType = "attempt"
	EventSendSucceeded  EventType = "send_succeeded"
	EventSendFailed     EventType = "send_failed"
	EventBackendSkipped EventType = "backend_skipped"
	EventOutcome        EventType = "outcome"
	EventBreakerChanged EventType = "breaker_changed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	// Outcome is the terminal status for EventOutcome.
	Outcome string
	// State is the breaker state name for EventBreakerChanged.
	State string
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventAttempt:
		c.metrics.IncrementAttempts(event.Backend)

	case EventSendSucceeded:
		c.metrics.RecordSend(event.Backend, event.Duration, true)

	case EventSendFailed:
		c.metrics.RecordSend(event.Backend, event.Duration, false)

	case EventBackendSkipped:
		c.metrics.IncrementSkipped(event.Backend)

	case EventOutcome:
		c.metrics.RecordOutcome(event.Outcome)

	case EventBreakerChanged:
		c.metrics.UpdateBreakerState(event.Backend, event.State)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

// Emit sends event without blocking; events are dropped when the buffer is full.
func Emit(ch chan<- MetricEvent, event MetricEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- event:
	default:
	}
}
