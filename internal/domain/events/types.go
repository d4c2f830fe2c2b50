package events

// EventType names a kind of domain event. Transports route on it.
type EventType string

// PublishOption adjusts how a single event is published.
type PublishOption func(*PublishParams)

// PublishParams collects the per-event publish settings.
type PublishParams struct {
	// Key orders events: events sharing a key are delivered in publish order.
	Key string

	Headers map[string]string
}

// WithKey sets the ordering key, normally the call request id.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders attaches transport headers to the event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}
