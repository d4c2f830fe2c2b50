package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestEndpointExcluder(t *testing.T) {
	t.Parallel()

	excluder := newEndpointExcluder(map[string]struct{}{"/v1/health": {}, "/metrics": {}}, 1)
	traceID := trace.TraceID{1}

	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  sdktrace.SamplingDecision
	}{
		{name: "excluded route", attrs: []attribute.KeyValue{attribute.String("http.target", "/v1/health")}, want: sdktrace.Drop},
		{name: "excluded url path", attrs: []attribute.KeyValue{attribute.String("url.path", "/metrics")}, want: sdktrace.Drop},
		{name: "other route", attrs: []attribute.KeyValue{attribute.String("http.target", "/v1/calls")}, want: sdktrace.RecordAndSample},
		{name: "no route", want: sdktrace.RecordAndSample},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := excluder.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       traceID,
				Name:          "span",
				Attributes:    tt.attrs,
			})
			assert.Equal(t, tt.want, res.Decision)
		})
	}
}

func TestGetTraceID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}
