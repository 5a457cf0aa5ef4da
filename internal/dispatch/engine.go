package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/dispatcher/internal/ledger"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
	"github.com/angeloszaimis/dispatcher/internal/ratelimit"
)

type workItem struct {
	msg     Message
	pending *Pending
}

// Engine serializes message delivery across an ordered set of backends.
type Engine struct {
	backends  []backend.Backend
	cfg       Config
	breakers  *circuitbreaker.Registry
	window    *ratelimit.Window
	completed *ledger.Idempotency
	status    *ledger.Status

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	events chan<- metrics.MetricEvent

	mutex   sync.Mutex
	queue   []*workItem
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	started sync.Once
	running bool
}

// Stats is a point-in-time view of the engine's bookkeeping.
type Stats struct {
	Queued      int `json:"queued"`
	Delivered   int `json:"delivered"`
	Tracked     int `json:"tracked"`
	WindowUsed  int `json:"window_used"`
	WindowQuota int `json:"window_quota"`
}

// New builds an engine over backends, tried in the given order.
func New(backends []backend.Backend, cfg Config, opts ...Option) (*Engine, error) {
	if len(backends) == 0 {
		return nil, errors.New("dispatch: at least one backend is required")
	}

	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		if b == nil {
			return nil, errors.New("dispatch: nil backend")
		}
		if seen[b.Name()] {
			return nil, fmt.Errorf("dispatch: duplicate backend name %q", b.Name())
		}
		seen[b.Name()] = true
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: invalid config: %w", err)
	}

	e := &Engine{
		backends:  append([]backend.Backend(nil), backends...),
		cfg:       cfg,
		window:    ratelimit.NewWindow(cfg.RateLimit, ratelimit.DefaultSpan),
		completed: ledger.NewIdempotency(),
		status:    ledger.NewStatus(),
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		sleep:     sleepContext,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "dispatch"))
	e.breakers = circuitbreaker.NewRegistry(
		backend.Names(e.backends),
		cfg.FailureThreshold,
		cfg.Cooldown,
		circuitbreaker.WithClock(e.now),
	)

	return e, nil
}

// Start launches the worker. Cancelling ctx stops intake like Close does;
// messages already queued still run to completion.
func (e *Engine) Start(ctx context.Context) {
	e.started.Do(func() {
		e.mutex.Lock()
		e.running = true
		e.mutex.Unlock()

		go e.run(context.WithoutCancel(ctx))
		go func() {
			select {
			case <-ctx.Done():
				e.shutdown()
			case <-e.done:
			}
		}()
	})
}

// Close stops accepting messages and waits for the queue to drain.
func (e *Engine) Close() error {
	e.shutdown()

	e.mutex.Lock()
	running := e.running
	e.mutex.Unlock()

	if running {
		<-e.done
		return nil
	}

	// Never started: nothing will process what is queued.
	e.mutex.Lock()
	orphaned := e.queue
	e.queue = nil
	e.mutex.Unlock()
	for _, item := range orphaned {
		item.pending.resolve(Outcome{ID: item.msg.ID}, ErrEngineClosed)
	}
	return nil
}

// Submit validates msg and queues it. It never blocks on delivery.
func (e *Engine) Submit(msg Message) (*Pending, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	pending := newPending(msg.ID)

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil, ErrEngineClosed
	}
	e.queue = append(e.queue, &workItem{msg: msg, pending: pending})
	queued := len(e.queue)
	e.mutex.Unlock()

	e.signal()

	e.logger.Debug("Message queued",
		slog.String("message_id", msg.ID),
		slog.Int("queued", queued))

	return pending, nil
}

// Send submits msg and waits for its outcome.
func (e *Engine) Send(ctx context.Context, msg Message) (Outcome, error) {
	pending, err := e.Submit(msg)
	if err != nil {
		return Outcome{ID: msg.ID}, err
	}
	return pending.Wait(ctx)
}

// GetStatus returns the latest record for id.
func (e *Engine) GetStatus(id string) (ledger.Record, bool) {
	return e.status.Lookup(id)
}

// Breakers returns breaker states in backend order.
func (e *Engine) Breakers() []circuitbreaker.BreakerStatus {
	return e.breakers.Snapshot()
}

// BreakerRegistry exposes the breakers for monitoring.
func (e *Engine) BreakerRegistry() *circuitbreaker.Registry {
	return e.breakers
}

func (e *Engine) Stats() Stats {
	e.mutex.Lock()
	queued := len(e.queue)
	e.mutex.Unlock()

	return Stats{
		Queued:      queued,
		Delivered:   e.completed.Len(),
		Tracked:     e.status.Len(),
		WindowUsed:  e.window.Len(e.now()),
		WindowQuota: e.window.Quota(),
	}
}

func (e *Engine) shutdown() {
	e.mutex.Lock()
	e.closed = true
	e.mutex.Unlock()
	e.signal()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	e.logger.Info("Dispatch worker started", slog.Int("backends", len(e.backends)))
	defer e.logger.Info("Dispatch worker stopped")

	for {
		item, ok := e.next()
		if !ok {
			return
		}
		outcome, err := e.process(ctx, item.msg)
		item.pending.resolve(outcome, err)
	}
}

// next blocks until an item is queued, or returns false once the engine is
// closed and the queue is empty.
func (e *Engine) next() (*workItem, bool) {
	for {
		e.mutex.Lock()
		if len(e.queue) > 0 {
			item := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mutex.Unlock()
			return item, true
		}
		closed := e.closed
		e.mutex.Unlock()

		if closed {
			return nil, false
		}
		<-e.wake
	}
}

func (e *Engine) process(ctx context.Context, msg Message) (Outcome, error) {
	id := msg.ID
	log := e.logger.With(slog.String("message_id", id))

	if e.completed.HasCompleted(id) {
		log.Info("Duplicate send prevented")
		e.record(id, ledger.StatusDuplicate, 0, "", "")
		return Outcome{
			ID:      id,
			Status:  ledger.StatusDuplicate,
			Message: "message already sent",
		}, nil
	}

	now := e.now()
	if !e.window.TryAdmit(now) {
		log.Warn("Rate limit exceeded", slog.Int("limit", e.cfg.RateLimit))
		e.record(id, ledger.StatusRateLimited, 0, "", "")
		return Outcome{ID: id, Status: ledger.StatusRateLimited}, ErrRateLimited
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		for i, b := range e.backends {
			name := b.Name()
			cb := e.breakers.At(i)

			before := cb.State()
			allowed := cb.CanRequest()
			e.observeBreaker(name, before, cb.State())
			if !allowed {
				log.Warn("Backend circuit open, skipping", slog.String("backend", name))
				e.emit(metrics.MetricEvent{Type: metrics.EventBackendSkipped, Backend: name})
				continue
			}

			log.Info("Attempting delivery",
				slog.Int("attempt", attempt),
				slog.String("backend", name))
			e.emit(metrics.MetricEvent{Type: metrics.EventAttempt, Backend: name})

			start := time.Now()
			err := b.Send(ctx, msg)
			elapsed := time.Since(start)

			before = cb.State()
			if err == nil {
				cb.RecordSuccess()
				e.observeBreaker(name, before, cb.State())
				e.emit(metrics.MetricEvent{Type: metrics.EventSendSucceeded, Backend: name, Duration: elapsed})

				e.completed.MarkCompleted(id)
				e.window.Record(now)
				e.record(id, ledger.StatusSent, attempt, name, "")

				log.Info("Message sent",
					slog.String("backend", name),
					slog.Int("attempts", attempt))
				return Outcome{
					ID:       id,
					Status:   ledger.StatusSent,
					Backend:  name,
					Attempts: attempt,
				}, nil
			}

			cb.RecordFailure()
			e.observeBreaker(name, before, cb.State())
			e.emit(metrics.MetricEvent{Type: metrics.EventSendFailed, Backend: name, Duration: elapsed})

			lastErr = err
			e.record(id, ledger.StatusFailed, attempt, name, err.Error())
			log.Warn("Backend failed",
				slog.String("backend", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}

		if attempt < e.cfg.MaxRetries {
			delay := e.backoff(attempt)
			log.Debug("Backing off", slog.Int("attempt", attempt), slog.Duration("delay", delay))
			if err := e.sleep(ctx, delay); err != nil {
				log.Warn("Backoff interrupted", slog.String("error", err.Error()))
			}
		}
	}

	lastMsg := ""
	if lastErr != nil {
		lastMsg = lastErr.Error()
	}
	e.record(id, ledger.StatusFailed, e.cfg.MaxRetries, "", lastMsg)
	log.Error("All backends failed", slog.Int("attempts", e.cfg.MaxRetries), slog.String("error", lastMsg))

	return Outcome{
		ID:       id,
		Status:   ledger.StatusFailed,
		Attempts: e.cfg.MaxRetries,
		Message:  lastMsg,
	}, &ExhaustedError{Attempts: e.cfg.MaxRetries, Last: lastErr}
}

// backoff returns BaseDelay * 2^(attempt-1).
func (e *Engine) backoff(attempt int) time.Duration {
	return e.cfg.BaseDelay * time.Duration(uint64(1)<<uint(attempt-1))
}

func (e *Engine) record(id string, status ledger.DeliveryStatus, attempts int, backendName, errMsg string) {
	e.status.Record(id, ledger.Record{
		Status:    status,
		Attempts:  attempts,
		Backend:   ledger.Ptr(backendName),
		Error:     ledger.Ptr(errMsg),
		UpdatedAt: e.now(),
	})

	// Interim failures carry a backend name and are overwritten later.
	if status == ledger.StatusFailed && backendName != "" {
		return
	}
	e.emit(metrics.MetricEvent{Type: metrics.EventOutcome, Outcome: string(status)})
}

func (e *Engine) observeBreaker(name string, before, after circuitbreaker.State) {
	if before == after {
		return
	}
	e.logger.Info("Circuit breaker state changed",
		slog.String("backend", name),
		slog.String("from", before.String()),
		slog.String("to", after.String()))
	e.emit(metrics.MetricEvent{Type: metrics.EventBreakerChanged, Backend: name, State: after.String()})
}

func (e *Engine) emit(event metrics.MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	metrics.Emit(e.events, event)
}
