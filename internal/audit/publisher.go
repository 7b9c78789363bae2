package audit

import (
	"context"
	"time"

	id "hearth/pkg/domain"
)

// Store is the append-only sink behind the publisher. The memory store serves
// tests and single-node deployments; a broker-backed sink can slot in without
// touching emitters.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByPerson(ctx context.Context, personID id.PersonID) ([]Event, error)
}

// Publisher captures structured audit events. It is append-only and uses the
// store for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, personID id.PersonID) ([]Event, error) {
	return p.store.ListByPerson(ctx, personID)
}
