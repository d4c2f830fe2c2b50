package serialization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
	serdeErrors "github.com/ahrav/dispatch/internal/infra/eventbus/serialization/errors"
)

func newTestReport(t *testing.T) dispatch.CallReport {
	t.Helper()
	req, err := dispatch.NewCallRequest(
		func(context.Context, dispatch.Conduit) (any, error) { return nil, nil },
		dispatch.WithCallableName("sync_repository"),
		dispatch.WithTags("repo:zoo"),
	)
	require.NoError(t, err)

	report := dispatch.NewCallReport(req, "task-1", "group-1")
	report.Response = dispatch.ResponsePostponed
	report.Reasons = []dispatch.ResourceTag{
		dispatch.NewResourceTag(dispatch.ResourceTypeRepository, "zoo", dispatch.OperationUpdate),
	}
	return report
}

func TestSerializeReportEvents(t *testing.T) {
	t.Parallel()

	report := newTestReport(t)
	tests := []struct {
		name  string
		event events.DomainEvent
	}{
		{name: "enqueued", event: dispatch.NewCallEnqueuedEvent(report)},
		{name: "started", event: dispatch.NewCallStartedEvent(report)},
		{name: "completed", event: dispatch.NewCallCompletedEvent(report)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := SerializePayload(tt.event.EventType(), tt.event)
			require.NoError(t, err)

			decoded, err := DeserializePayload(tt.event.EventType(), data)
			require.NoError(t, err)

			assert.Equal(t, report.CallRequestID, decoded["call_request_id"])
			assert.Equal(t, "group-1", decoded["call_request_group_id"])
			assert.Equal(t, "postponed", decoded["response"])
			assert.Equal(t, []any{"repo:zoo"}, decoded["tags"])
			assert.Equal(t, []any{map[string]any{
				"resource_type": "repository",
				"resource_id":   "zoo",
				"operation":     "update",
			}}, decoded["reasons"])
			assert.Nil(t, decoded["exception"])
		})
	}
}

func TestSerializeCallProgressed(t *testing.T) {
	t.Parallel()

	evt := dispatch.NewCallProgressedEvent("call-1", map[string]any{"step": "download", "done": 4})
	data, err := SerializePayload(dispatch.EventTypeCallProgressed, evt)
	require.NoError(t, err)

	decoded, err := DeserializePayload(dispatch.EventTypeCallProgressed, data)
	require.NoError(t, err)
	assert.Equal(t, "call-1", decoded["call_request_id"])
	assert.Equal(t, map[string]any{"step": "download", "done": float64(4)}, decoded["progress"])
}

func TestSerializePayload_Errors(t *testing.T) {
	t.Parallel()

	_, err := SerializePayload("Unknown", nil)
	assert.Error(t, err)

	_, err = SerializePayload(dispatch.EventTypeCallStarted, dispatch.NewCallCompletedEvent(newTestReport(t)))
	var typeErr serdeErrors.ErrPayloadType
	assert.True(t, errors.As(err, &typeErr))

	report := newTestReport(t)
	report.Result = make(chan int)
	_, err = SerializePayload(dispatch.EventTypeCallCompleted, dispatch.NewCallCompletedEvent(report))
	var encErr serdeErrors.ErrUnencodable
	assert.True(t, errors.As(err, &encErr))

	_, err = DeserializePayload(dispatch.EventTypeCallStarted, []byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	data, err := EncodeTimestamp(at)
	require.NoError(t, err)

	got, err := DecodeTimestamp(data)
	require.NoError(t, err)
	assert.True(t, at.Equal(got))
}
