// Package outbox implements the transactional outbox for lifecycle events.
//
// # Components
//
//   - Emitter: builds domain events enriched with service metadata
//   - PgStore: persists events in outbox_events and claims pending rows
//   - Publisher: emits an event and stores it in one call
//   - KafkaSink: writes claimed events to the events topic
//   - Relay: polls pending rows, publishes them and records the outcome
//
// Events are written with status pending. The relay claims a batch with
// FOR UPDATE SKIP LOCKED so several relays can run side by side, publishes the
// batch, and marks each row published or failed. A row is parked as failed
// once its attempts reach max_attempts. Delivery to Kafka is at-least-once.
//
// # Usage
//
//	emitter := outbox.NewEmitter(outbox.EmitterConfig{ServiceName: "orchestrator"})
//	publisher := outbox.NewPublisher(emitter, outbox.NewPgStore(db.Pool(), 5))
//
//	err := publisher.Publish(ctx, nil, outbox.EmitParams{
//	    AggregateID:   workflowID,
//	    AggregateType: domain.AggregateWorkflow,
//	    TenantID:      tenantID,
//	    EventType:     domain.EventTypeWorkflowStarted,
//	    Data:          data,
//	})
package outbox
