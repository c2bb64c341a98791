package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/unlock/orchestration-service/internal/observability"
)

// RelayConfig configures the polling relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Relay moves pending outbox rows to a Sink.
type Relay struct {
	store   Store
	sink    Sink
	config  RelayConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewRelay creates a relay. metrics may be nil.
func NewRelay(store Store, sink Sink, cfg RelayConfig, metrics *observability.Metrics, logger zerolog.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:   store,
		sink:    sink,
		config:  cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "outbox_relay").Logger(),
	}
}

// RunOnce relays one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published, failed, err := r.store.Process(ctx, r.config.BatchSize, r.sink.Send)
	if err != nil {
		return 0, err
	}
	r.metrics.RecordOutboxPublished(published)
	r.metrics.RecordOutboxFailed(failed)
	if failed > 0 {
		r.logger.Warn().Int("published", published).Int("failed", failed).Msg("outbox batch partially failed")
	} else if published > 0 {
		r.logger.Debug().Int("published", published).Msg("outbox batch relayed")
	}
	return published, nil
}

// Run polls until the context is cancelled. A full batch is followed
// immediately by another poll.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.config.PollInterval).
		Int("batch_size", r.config.BatchSize).
		Msg("starting outbox relay")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		published, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("outbox relay batch failed")
		}

		next := r.config.PollInterval
		if err == nil && published >= r.config.BatchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// Close closes the sink.
func (r *Relay) Close() error {
	return r.sink.Close()
}
