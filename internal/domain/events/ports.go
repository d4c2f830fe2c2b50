// Package events defines the transport-neutral shape of the domain events the
// dispatch core emits and the port it publishes them through.
package events

import "context"

// DomainEventPublisher hands domain events to whatever transport the
// process is wired with. Implementations must be safe for concurrent use.
type DomainEventPublisher interface {
	// PublishDomainEvent sends event. Options set the routing key and headers.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}
