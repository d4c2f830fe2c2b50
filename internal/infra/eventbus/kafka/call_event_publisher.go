package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
	"github.com/ahrav/dispatch/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/dispatch/internal/infra/eventbus/serialization"
	"github.com/ahrav/dispatch/pkg/common/logger"
)

// Header keys set on every published message.
const (
	HeaderEventType  = "event_type"
	HeaderOccurredAt = "occurred_at"
)

// PublisherMetrics tracks the outcome of publishing to Kafka.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// PublisherConfig names the topics call events are routed to.
type PublisherConfig struct {
	// CallEventsTopic receives the lifecycle events of every call.
	CallEventsTopic string
	// ProgressTopic receives progress events. Empty routes them to
	// CallEventsTopic.
	ProgressTopic string
}

var _ events.DomainEventPublisher = (*CallEventPublisher)(nil)

// CallEventPublisher publishes dispatch domain events through a synchronous
// Kafka producer. Messages are keyed by the publish key, which the
// coordinator sets to the call request id.
type CallEventPublisher struct {
	producer sarama.SyncProducer
	topics   map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PublisherMetrics
}

// NewCallEventPublisher creates a publisher over producer.
func NewCallEventPublisher(
	producer sarama.SyncProducer,
	cfg PublisherConfig,
	log *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*CallEventPublisher, error) {
	if cfg.CallEventsTopic == "" {
		return nil, fmt.Errorf("call events topic is required")
	}
	progressTopic := cfg.ProgressTopic
	if progressTopic == "" {
		progressTopic = cfg.CallEventsTopic
	}

	return &CallEventPublisher{
		producer: producer,
		topics: map[events.EventType]string{
			dispatch.EventTypeCallEnqueued:   cfg.CallEventsTopic,
			dispatch.EventTypeCallStarted:    cfg.CallEventsTopic,
			dispatch.EventTypeCallCompleted:  cfg.CallEventsTopic,
			dispatch.EventTypeCallProgressed: progressTopic,
		},
		logger:  log.With("component", "call_event_publisher"),
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// PublishDomainEvent serializes event and sends it to the topic mapped to
// its type.
func (p *CallEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	env := events.NewEnvelope(event, opts...)
	topic, ok := p.topics[env.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", env.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, p.tracer)
	defer span.End()
	span.SetAttributes(attribute.String("event.type", string(env.Type)))

	msg, err := p.buildMessage(topic, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build message")
		p.metrics.IncPublishError(ctx, topic)
		return err
	}
	if env.Key != "" {
		span.SetAttributes(attribute.String("event.key", env.Key))
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		p.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}

	p.metrics.IncMessagePublished(ctx, topic)
	p.logger.Debug(ctx, "published call event",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"event_type", string(env.Type),
		"key", env.Key,
	)
	return nil
}

func (p *CallEventPublisher) buildMessage(topic string, env events.EventEnvelope) (*sarama.ProducerMessage, error) {
	payload, err := serialization.SerializePayload(env.Type, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload for event %s: %w", env.Type, err)
	}
	occurredAt, err := serialization.EncodeTimestamp(env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode timestamp for event %s: %w", env.Type, err)
	}

	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(env.Type)},
		{Key: []byte(HeaderOccurredAt), Value: occurredAt},
	}
	for k, v := range env.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(payload),
		Headers:   headers,
		Timestamp: env.Timestamp,
	}
	if env.Key != "" {
		msg.Key = sarama.StringEncoder(env.Key)
	}
	return msg, nil
}

// Close closes the underlying producer.
func (p *CallEventPublisher) Close() error { return p.producer.Close() }
