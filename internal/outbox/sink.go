package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Sink delivers claimed events to subscribers.
type Sink interface {
	Send(ctx context.Context, records []Record) []Result
	Close() error
}

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSinkConfig configures the Kafka writer.
type KafkaSinkConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// KafkaSink writes events to a Kafka topic keyed by aggregate id, so events of
// one workflow, task or entity group stay in partition order.
type KafkaSink struct {
	writer messageWriter
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink creates a sink backed by a kafka-go Writer.
func NewKafkaSink(cfg KafkaSinkConfig) *KafkaSink {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}}
}

// newKafkaSinkWithWriter wires a custom writer (tests).
func newKafkaSinkWithWriter(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Send writes the records in one batch. A partial failure reported by the
// writer as kafka.WriteErrors is mapped back to the individual events.
func (s *KafkaSink) Send(ctx context.Context, records []Record) []Result {
	results := make([]Result, len(records))
	msgs := make([]kafka.Message, 0, len(records))
	index := make([]int, 0, len(records))

	for i, rec := range records {
		results[i].EventID = rec.Event.EventID
		value, err := json.Marshal(rec.Event)
		if err != nil {
			results[i].Err = fmt.Errorf("marshal event: %w", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Event.EntityRef),
			Value: value,
			Time:  rec.Event.Timestamp,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(rec.Event.EventType)},
				{Key: "tenant_id", Value: []byte(rec.Event.TenantID)},
			},
		})
		index = append(index, i)
	}
	if len(msgs) == 0 {
		return results
	}

	err := s.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return results
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) && len(writeErrs) == len(msgs) {
		for j, werr := range writeErrs {
			results[index[j]].Err = werr
		}
		return results
	}
	for _, i := range index {
		results[i].Err = err
	}
	return results
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
