// Package main provides the entry point for the orchestration Temporal workers.
// One process runs the component named by temporal.component (or the
// -component flag): a single task queue, or all of them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/unlock/orchestration-service/internal/config"
	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/engines"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
	"github.com/unlock/orchestration-service/internal/temporal"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	componentFlag := flag.String("component", "", "Worker component to run (overrides temporal.component)")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	name := cfg.Temporal.Component
	if *componentFlag != "" {
		name = *componentFlag
	}
	component, err := temporal.ParseComponent(name)
	if err != nil {
		return err
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Str("worker_component", string(component)).Logger()
	logger.Info().Strs("task_queues", component.Queues()).Msg("orchestration worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	var acts temporal.Activities
	if needsDatabase(component) {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		acts = buildActivities(db, cfg.Outbox.MaxAttempts, metrics)
	}

	temporalClient, err := temporal.NewClient(temporal.ClientConfig{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		APIKey:    cfg.Temporal.APIKey,
		TLS: &temporal.TLSConfig{
			Enabled:    cfg.Temporal.TLSEnabled,
			CertPath:   cfg.Temporal.TLSCertPath,
			KeyPath:    cfg.Temporal.TLSKeyPath,
			CACertPath: cfg.Temporal.TLSCAPath,
			ServerName: cfg.Temporal.TLSServerName,
		},
		Logger: observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	workerConfig := temporal.DefaultWorkerConfig(component)
	if cfg.Temporal.MaxConcurrentActivities > 0 {
		workerConfig.MaxConcurrentActivityExecutionSize = cfg.Temporal.MaxConcurrentActivities
	}
	if cfg.Temporal.MaxConcurrentWorkflowTasks > 0 {
		workerConfig.MaxConcurrentWorkflowTaskExecutionSize = cfg.Temporal.MaxConcurrentWorkflowTasks
	}

	manager, err := temporal.NewWorkerManager(temporalClient, workerConfig, acts, logger)
	if err != nil {
		return fmt.Errorf("create workers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := manager.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("worker error: %w", err)
		}
		return nil
	})

	// Workers have no API; metrics get their own listener.
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         cfg.Server.HTTPAddress(),
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		g.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("worker stopped via signal")
	return nil
}

// needsDatabase reports whether the component serves any activity queue.
func needsDatabase(component temporal.Component) bool {
	for _, q := range component.Queues() {
		if q != activities.QueueOrchestrator {
			return true
		}
	}
	return false
}

// buildActivities wires every activity group to Postgres and the built-in engines.
func buildActivities(db *database.DB, outboxMaxAttempts int, metrics *observability.Metrics) temporal.Activities {
	entities := repository.NewPgEntityStore(db)
	events := outbox.NewPgStore(db, outboxMaxAttempts)
	emitter := outbox.NewEmitter(outbox.EmitterConfig{})
	tasks := repository.NewPgTaskRepository(db)
	audits := repository.NewPgRunAuditRepository(db)

	return temporal.Activities{
		Content:     activities.NewContentActivities(entities, engines.NewTemplateContentEngine(), events, emitter, metrics),
		Identity:    activities.NewIdentityActivities(entities, engines.NewTermIdentityEngine(), events, emitter, metrics),
		Performance: activities.NewPerformanceActivities(entities, engines.NewSyntheticPerformanceEngine(), events, emitter, metrics),
		Entity:      activities.NewEntityActivities(entities, metrics),
		Platform:    activities.NewPlatformActivities(tasks, audits, events, emitter, metrics),
	}
}
