package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID is logged for work that runs outside any span.
var zeroTraceID = trace.TraceID{}.String()

// GetTraceID returns the trace id of the span in ctx, or the all-zero id.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return zeroTraceID
	}
	return sc.TraceID().String()
}
