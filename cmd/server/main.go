// Package main provides the entry point for the orchestration service API:
// the HTTP surface, the outbox relay and the inbound signal listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unlock/orchestration-service/internal/config"
	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/outbox"
	"github.com/unlock/orchestration-service/internal/repository"
	httpserver "github.com/unlock/orchestration-service/internal/server/http"
	"github.com/unlock/orchestration-service/internal/signals"
	"github.com/unlock/orchestration-service/internal/temporal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("orchestration-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	// Create Temporal client.
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
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	// Outbox write path for workflow.started events.
	outboxStore := outbox.NewPgStore(db, cfg.Outbox.MaxAttempts)
	publisher := outbox.NewPublisher(outbox.NewEmitter(outbox.EmitterConfig{}), outboxStore)

	settings := temporal.WorkflowSettings{
		ContentTimeout:     cfg.Workflows.ContentExecutionTimeout,
		IdentityTimeout:    cfg.Workflows.IdentityExecutionTimeout,
		PerformanceTimeout: cfg.Workflows.PerformanceExecutionTimeout,
		VoiceThreshold:     cfg.Workflows.VoiceThreshold,
		MaxRevisions:       cfg.Workflows.MaxRevisions,
		ApprovalDue:        cfg.Workflows.ApprovalDue,
	}
	engine := temporal.NewEngine(temporalClient, settings.EngineConfig(), publisher, metrics, logger)
	defer engine.Close()
	scheduler := temporal.NewScheduler(temporalClient.ScheduleClient(), engine, logger)

	tasks := repository.NewPgTaskRepository(db)
	entities := repository.NewPgEntityStore(db)
	bridge := signals.NewBridge(tasks, engine, metrics, logger)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	httpSrv := httpserver.NewServer(httpserver.Config{
		Address:           cfg.Server.HTTPAddress(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestsPerSecond: cfg.RateLimit.HTTPRequestsPerSecond,
		Burst:             cfg.RateLimit.HTTPBurst,
		MetricsPath:       metricsPath,
	}, httpserver.Deps{
		Engine:    engine,
		Schedules: scheduler,
		Tasks:     tasks,
		Bridge:    bridge,
		Entities:  entities,
		DB:        db,
		Metrics:   metrics,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		relay := outbox.NewRelay(outboxStore, outbox.NewKafkaSink(outbox.KafkaSinkConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.EventsTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}), outbox.RelayConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
		}, metrics, logger)
		defer closeWithLog(logger, "outbox relay", relay.Close)
		g.Go(func() error { return ignoreCancel(relay.Run(gctx)) })

		var dedup signals.Deduper
		if cfg.Redis.Enabled {
			redisClient, err := signals.NewRedisClient(ctx, signals.RedisConfig{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer closeWithLog(logger, "redis client", redisClient.Close)
			dedup = signals.NewRedisDeduper(redisClient, cfg.Redis.DedupTTL)
		}

		listener := signals.NewListener(signals.ListenerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.InboundTopic,
			GroupID:       cfg.Kafka.ConsumerGroup,
			RatePerSecond: cfg.RateLimit.InboundMessagesPerSecond,
			Burst:         cfg.RateLimit.InboundBurst,
		}, bridge, dedup, metrics, logger)
		defer closeWithLog(logger, "signal listener", listener.Close)
		g.Go(func() error { return ignoreCancel(listener.Run(gctx)) })
	} else {
		logger.Warn().Msg("kafka disabled: outbox events stay pending and inbound signals are not consumed")
	}

	logger.Info().
		Str("http_address", cfg.Server.HTTPAddress()).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("orchestration-service is ready")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("orchestration-service shutdown complete")
	return nil
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer closeWithLog(logger, "migrator", migrator.Close)

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ignoreCancel treats a context cancellation as a clean stop.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func closeWithLog(logger zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error().Err(err).Str("resource", name).Msg("close failed")
	}
}
