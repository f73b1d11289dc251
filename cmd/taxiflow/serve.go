// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/taxiflow/internal/api"
	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/engine"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/schedule"
	"github.com/tomtom215/taxiflow/internal/supervisor"
	"github.com/tomtom215/taxiflow/internal/supervisor/services"
)

const (
	eventBufferSize    = 256
	eventLogSize       = 1000
	httpShutdownPeriod = 10 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job scheduler and HTTP API",
		Long: `
Starts the supervisor tree: the cron scheduler triggering job runs, the
materialization event consumer and the HTTP API. Runs until SIGINT or
SIGTERM.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

//nolint:gocyclo // Sequential setup steps
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Starting taxiflow with supervisor tree")

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Event bus: the runner publishes one event per outcome, the event log
	// keeps the most recent ones for the API.
	bus := engine.NewEventBus(eventBufferSize)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()
	events := engine.NewEventLog(eventLogSize)
	runner := a.runner(engine.WithPublisher(bus))

	var store schedule.WatermarkStore
	if cfg.Scheduler.WatermarkDir != "" {
		badgerStore, err := schedule.OpenBadgerWatermarkStore(cfg.Scheduler.WatermarkDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := badgerStore.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing watermark store")
			}
		}()
		store = badgerStore
	}
	scheduler := schedule.NewScheduler(a.pipeline.Jobs.Schedules(), runner.Trigger(a.pipeline.Jobs), store,
		schedulerConfig(cfg))

	handler := api.NewHandler(api.Deps{
		Jobs:       a.pipeline.Jobs,
		Runner:     runner,
		States:     a.materializer,
		Ledger:     a.ledger,
		Schedules:  scheduler,
		Events:     events,
		Store:      a.store,
		RunTimeout: cfg.Pipeline.RunTimeout,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, cfg.Server.RunRateLimit).SetupChi(),
		ReadHeaderTimeout: cfg.Server.Timeout,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}

	// Pipeline layer
	tree.AddPipelineService(services.NewEventConsumerService(events, bus))
	if cfg.Scheduler.Enabled {
		tree.AddPipelineService(services.NewSchedulerService(scheduler))
		logging.Info().
			Int("schedules", len(a.pipeline.Jobs.Schedules())).
			Dur("check_interval", cfg.Scheduler.CheckInterval).
			Msg("Scheduler service added")
	} else {
		logging.Info().Msg("Scheduler disabled; jobs run only on request")
	}

	// API layer
	tree.AddAPIService(services.NewHTTPServerService(server, httpShutdownPeriod))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// The channel yields one result once the root supervisor returns.
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Taxiflow stopped gracefully")
	return nil
}

func schedulerConfig(cfg *config.Config) schedule.Config {
	sc := schedule.DefaultConfig()
	sc.Enabled = cfg.Scheduler.Enabled
	sc.CheckInterval = cfg.Scheduler.CheckInterval
	sc.Disabled = cfg.Scheduler.Disabled
	if cfg.Pipeline.RunTimeout > 0 {
		sc.RunTimeout = cfg.Pipeline.RunTimeout
	}
	return sc
}

// writeTimeout leaves room for a synchronous manual run to finish. Zero
// disables the timeout when runs are unbounded.
func writeTimeout(cfg *config.Config) time.Duration {
	if cfg.Pipeline.RunTimeout <= 0 {
		return 0
	}
	return cfg.Pipeline.RunTimeout + cfg.Server.Timeout
}
