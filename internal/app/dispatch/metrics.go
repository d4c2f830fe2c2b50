package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
)

// CoordinatorMetrics defines the metrics recorded by the coordinator.
type CoordinatorMetrics interface {
	// Admission metrics
	IncCallsSubmitted(ctx context.Context, response domain.Response)
	AddQueuedCalls(ctx context.Context, delta int64)

	// Execution metrics
	IncRunningCalls(ctx context.Context)
	DecRunningCalls(ctx context.Context)
	IncCallsCompleted(ctx context.Context, state domain.TaskState)
	ObserveCallDuration(ctx context.Context, callableName string, duration time.Duration)

	// Cancellation metrics
	IncCancellations(ctx context.Context, confirmed bool)
}

// coordinatorMetrics implements CoordinatorMetrics
type coordinatorMetrics struct {
	callsSubmitted metric.Int64Counter
	queuedCalls    metric.Int64UpDownCounter

	runningCalls   metric.Int64UpDownCounter
	callsCompleted metric.Int64Counter
	callDuration   metric.Float64Histogram

	cancellations metric.Int64Counter
}

const namespace = "dispatch"

// NewCoordinatorMetrics creates a new Coordinator metrics instance.
func NewCoordinatorMetrics(mp metric.MeterProvider) (*coordinatorMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(coordinatorMetrics)
	var err error

	if m.callsSubmitted, err = meter.Int64Counter(
		"calls_submitted_total",
		metric.WithDescription("Total number of call requests submitted, by admission response"),
	); err != nil {
		return nil, err
	}

	if m.queuedCalls, err = meter.Int64UpDownCounter(
		"queued_calls",
		metric.WithDescription("Number of call requests waiting on resources or dependencies"),
	); err != nil {
		return nil, err
	}

	if m.runningCalls, err = meter.Int64UpDownCounter(
		"running_calls",
		metric.WithDescription("Number of call requests currently running"),
	); err != nil {
		return nil, err
	}

	if m.callsCompleted, err = meter.Int64Counter(
		"calls_completed_total",
		metric.WithDescription("Total number of call requests that reached a terminal state"),
	); err != nil {
		return nil, err
	}

	if m.callDuration, err = meter.Float64Histogram(
		"call_duration_seconds",
		metric.WithDescription("Time taken to run a call request"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.cancellations, err = meter.Int64Counter(
		"cancellations_total",
		metric.WithDescription("Total number of cancelled running call requests"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *coordinatorMetrics) IncCallsSubmitted(ctx context.Context, response domain.Response) {
	m.callsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("response", response.String())))
}

func (m *coordinatorMetrics) AddQueuedCalls(ctx context.Context, delta int64) {
	m.queuedCalls.Add(ctx, delta)
}

func (m *coordinatorMetrics) IncRunningCalls(ctx context.Context) { m.runningCalls.Add(ctx, 1) }
func (m *coordinatorMetrics) DecRunningCalls(ctx context.Context) { m.runningCalls.Add(ctx, -1) }

func (m *coordinatorMetrics) IncCallsCompleted(ctx context.Context, state domain.TaskState) {
	m.callsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
}

func (m *coordinatorMetrics) ObserveCallDuration(ctx context.Context, callableName string, duration time.Duration) {
	m.callDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("callable", callableName)))
}

func (m *coordinatorMetrics) IncCancellations(ctx context.Context, confirmed bool) {
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("confirmed", confirmed)))
}
