package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/backend"
	"github.com/angeloszaimis/dispatcher/internal/dispatch"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

func initializeBackends(cfg *config.Config, log *slog.Logger) ([]backend.Backend, error) {
	var backends []backend.Backend

	for _, bc := range cfg.Backends {
		u, err := url.Parse(bc.URL)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
		}

		var timeout time.Duration
		if bc.Timeout != "" {
			if timeout, err = time.ParseDuration(bc.Timeout); err != nil {
				return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
			}
		}

		backends = append(backends, backend.NewHTTP(bc.Name, u, timeout))
		log.Debug("Backend configured",
			slog.String("backend", bc.Name),
			slog.String("url", u.String()))
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	return backends, nil
}

func buildEngine(cfg *config.Config, log *slog.Logger, events chan<- metrics.MetricEvent) (*dispatch.Engine, error) {
	backends, err := initializeBackends(cfg, log)
	if err != nil {
		return nil, err
	}

	baseDelay, cooldown, _, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	return dispatch.New(backends, dispatch.Config{
		MaxRetries:       cfg.Dispatch.MaxRetries,
		BaseDelay:        baseDelay,
		RateLimit:        cfg.Dispatch.RateLimit,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Cooldown:         cooldown,
	}, dispatch.WithLogger(log), dispatch.WithEvents(events))
}

// retryBudget is the longest a single message can spend in backoff.
func retryBudget(maxRetries int, baseDelay time.Duration) time.Duration {
	var total time.Duration
	for attempt := 1; attempt < maxRetries; attempt++ {
		total += baseDelay << (attempt - 1)
	}
	return total
}
