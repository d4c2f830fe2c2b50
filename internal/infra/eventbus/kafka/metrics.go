package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "dispatch_kafka"

type publisherMetrics struct {
	published     metric.Int64Counter
	publishErrors metric.Int64Counter
}

var _ PublisherMetrics = (*publisherMetrics)(nil)

// NewPublisherMetrics creates the publish counters on mp.
func NewPublisherMetrics(mp metric.MeterProvider) (*publisherMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(publisherMetrics)
	var err error
	if m.published, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of call events published to Kafka"),
	); err != nil {
		return nil, err
	}
	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of call events that failed to publish"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *publisherMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *publisherMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
