package signals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

const maxRetryBackoff = 30 * time.Second

// Inbound message outcomes recorded in metrics.
const (
	ResultDelivered = "delivered"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Handler processes one decoded inbound message.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// messageReader is the subset of *kafka.Reader used by the listener.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ListenerConfig holds configuration for the inbound listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the inbound signals topic.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
	// RatePerSecond bounds deliveries; zero disables pacing.
	RatePerSecond float64
	// Burst is the token bucket size.
	Burst int
	// MaxAttempts bounds retries of a transiently failing message.
	MaxAttempts int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

// Listener consumes the inbound topic and hands messages to a Handler.
type Listener struct {
	reader  messageReader
	handler Handler
	dedup   Deduper
	limiter *rate.Limiter
	config  ListenerConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewListener creates a listener reading from Kafka. dedup and metrics may be nil.
func NewListener(cfg ListenerConfig, handler Handler, dedup Deduper, metrics *observability.Metrics, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, cfg, handler, dedup, metrics, logger)
}

func newListener(reader messageReader, cfg ListenerConfig, handler Handler, dedup Deduper, metrics *observability.Metrics, logger zerolog.Logger) *Listener {
	if dedup == nil {
		dedup = NoopDeduper{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Listener{
		reader:  reader,
		handler: handler,
		dedup:   dedup,
		limiter: rate.NewLimiter(limit, burst),
		config:  cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "signal_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Str("topic", l.config.Topic).Msg("starting signal listener")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("signal listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		if err := l.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		result := l.process(ctx, msg)
		if ctx.Err() != nil && result == ResultFailed {
			return ctx.Err()
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			l.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to commit message")
		}
	}
}

// process handles one message and returns its outcome.
func (l *Listener) process(ctx context.Context, raw kafka.Message) string {
	logger := l.logger.With().Int("partition", raw.Partition).Int64("offset", raw.Offset).Logger()

	var msg Message
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		logger.Error().Err(err).Str("raw_value", string(raw.Value)).Msg("failed to unmarshal inbound message")
		l.metrics.RecordInboundMessage("unknown", ResultRejected)
		return ResultRejected
	}
	kind := string(msg.Kind)

	key := msg.DedupKey()
	if key != "" {
		first, err := l.dedup.Claim(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Msg("dedup unavailable, processing without it")
		} else if !first {
			logger.Debug().Str("idempotency_key", msg.IdempotencyKey).Msg("dropping duplicate inbound message")
			l.metrics.RecordInboundDuplicate()
			l.metrics.RecordInboundMessage(kind, ResultDuplicate)
			return ResultDuplicate
		}
	}

	result := l.deliver(ctx, logger, msg)
	if result == ResultFailed && key != "" {
		if err := l.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn().Err(err).Msg("failed to release dedup key")
		}
	}
	l.metrics.RecordInboundMessage(kind, result)
	return result
}

func (l *Listener) deliver(ctx context.Context, logger zerolog.Logger, msg Message) string {
	for attempt := 1; ; attempt++ {
		err := l.handler.Handle(ctx, msg)
		if err == nil {
			return ResultDelivered
		}
		if isPermanent(err) {
			logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("rejected inbound message")
			return ResultRejected
		}
		if attempt >= l.config.MaxAttempts {
			logger.Error().Err(err).Int("attempts", attempt).Str("kind", string(msg.Kind)).Msg("giving up on inbound message")
			return ResultFailed
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("inbound message failed, retrying")
		select {
		case <-ctx.Done():
			return ResultFailed
		case <-time.After(resilience.Backoff(l.config.RetryBackoff, 2, maxRetryBackoff, attempt-1)):
		}
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrPermanent)
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing signal listener")
	return l.reader.Close()
}
