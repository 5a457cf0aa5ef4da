package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/handler"
	"github.com/angeloszaimis/dispatcher/internal/httpserver"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
	"github.com/angeloszaimis/dispatcher/internal/monitor"
	"github.com/angeloszaimis/dispatcher/pkg/logger"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP dispatch API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector(1000, log)
	collector.Start(ctx)

	engine, err := buildEngine(cfg, log, collector.EventChannel())
	if err != nil {
		log.Error("Failed to build dispatch engine", slog.Any("err", err))
		return err
	}
	engine.Start(ctx)

	baseDelay, _, monitorInterval, err := cfg.Durations()
	if err != nil {
		return err
	}
	go monitor.WatchBreakers(ctx, engine.BreakerRegistry(), monitorInterval, collector.EventChannel(), log)

	dispatchHandler := handler.NewDispatchHandler(log, engine)
	router := handler.NewRouter(dispatchHandler, collector.Handler())

	srv, err := httpserver.New(cfg.Server.Address, router,
		httpserver.WithWriteTimeout(retryBudget(cfg.Dispatch.MaxRetries, baseDelay)+time.Minute))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}

	srvErrCh := make(chan error, 1)
	go func() {
		log.Info("Dispatcher listening", slog.String("address", cfg.Server.Address))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		return engine.Close()
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting dispatcher", slog.Any("err", err))
		}
		_ = engine.Close()
		return err
	}
}
