package outbox

import (
	"context"
	"fmt"

	"github.com/unlock/orchestration-service/internal/database"
)

// Publisher combines the Emitter and a Store: it builds an event and writes it
// to the outbox.
type Publisher struct {
	emitter *Emitter
	store   Store
}

// NewPublisher creates a new Publisher with the given emitter and store.
func NewPublisher(emitter *Emitter, store Store) *Publisher {
	return &Publisher{emitter: emitter, store: store}
}

// Publish emits an event and inserts it into the outbox. Pass a transaction as
// tx to commit the event together with other writes, or nil.
func (p *Publisher) Publish(ctx context.Context, tx database.DBTX, params EmitParams) error {
	event, err := p.emitter.Emit(params)
	if err != nil {
		return fmt.Errorf("emit event: %w", err)
	}
	if err := p.store.Insert(ctx, tx, event); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

// Emitter returns the underlying emitter for direct event creation.
func (p *Publisher) Emitter() *Emitter {
	return p.emitter
}

// Store returns the underlying store for direct event insertion.
func (p *Publisher) Store() Store {
	return p.store
}
