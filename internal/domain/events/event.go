package events

import "time"

// DomainEvent is implemented by every event the dispatch core emits. It
// exposes just enough for transports to route and timestamp the event.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt records when the state change happened.
	OccurredAt() time.Time
}

// EventEnvelope is the transport-level wrapper around a domain event.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically the call request id so
	// that all events of one call land on the same partition in order.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the domain event itself.
	Payload DomainEvent
}

// NewEnvelope wraps a domain event, applying the publish options.
func NewEnvelope(event DomainEvent, opts ...PublishOption) EventEnvelope {
	var p PublishParams
	for _, opt := range opts {
		opt(&p)
	}
	return EventEnvelope{
		Type:      event.EventType(),
		Key:       p.Key,
		Headers:   p.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
}
