// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for tests and for
// running the dispatcher without Kafka.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/dispatch/internal/domain/events"
)

// Handler receives published envelopes.
type Handler func(ctx context.Context, env events.EventEnvelope) error

type subscription struct {
	id      uint64
	types   map[events.EventType]struct{}
	handler Handler
}

// Broker fans published domain events out to in-process subscribers.
// It implements events.DomainEventPublisher.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBroker creates an empty broker.
func NewBroker() *Broker { return new(Broker) }

// Subscribe registers handler for the given event types, or for every type
// when none are given. The subscription ends when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, handler Handler, types ...events.EventType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[events.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(sub.id)
	}()

	return nil
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// PublishDomainEvent delivers event to every matching subscriber in
// subscription order, stopping at the first error.
func (b *Broker) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := events.NewEnvelope(event, opts...)

	// Handlers run without the lock so they may subscribe or publish.
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil {
			if _, ok := s.types[env.Type]; !ok {
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.handler(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
