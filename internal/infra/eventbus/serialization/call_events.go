package serialization

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
	serdeErrors "github.com/ahrav/dispatch/internal/infra/eventbus/serialization/errors"
)

func serializeCallEnqueued(payload any) ([]byte, error) {
	evt, ok := payload.(dispatch.CallEnqueuedEvent)
	if !ok {
		return nil, serdeErrors.ErrPayloadType{EventType: string(dispatch.EventTypeCallEnqueued), Got: payload}
	}
	return marshalReport(evt.Report)
}

func serializeCallStarted(payload any) ([]byte, error) {
	evt, ok := payload.(dispatch.CallStartedEvent)
	if !ok {
		return nil, serdeErrors.ErrPayloadType{EventType: string(dispatch.EventTypeCallStarted), Got: payload}
	}
	return marshalReport(evt.Report)
}

func serializeCallCompleted(payload any) ([]byte, error) {
	evt, ok := payload.(dispatch.CallCompletedEvent)
	if !ok {
		return nil, serdeErrors.ErrPayloadType{EventType: string(dispatch.EventTypeCallCompleted), Got: payload}
	}
	return marshalReport(evt.Report)
}

func serializeCallProgressed(payload any) ([]byte, error) {
	evt, ok := payload.(dispatch.CallProgressedEvent)
	if !ok {
		return nil, serdeErrors.ErrPayloadType{EventType: string(dispatch.EventTypeCallProgressed), Got: payload}
	}

	progress, err := toStruct("progress", evt.Progress)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"call_request_id": structpb.NewStringValue(evt.CallRequestID),
		"progress":        structpb.NewStructValue(progress),
	}}
	return proto.Marshal(msg)
}

// marshalReport encodes the serialized form of a call report.
func marshalReport(report dispatch.CallReport) ([]byte, error) {
	s, err := toStruct("report", report.Serialize())
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// toStruct converts an arbitrary mapping into a Struct. Values are
// normalized through JSON first, since Struct only holds JSON-shaped data.
func toStruct(field string, m map[string]any) (*structpb.Struct, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, serdeErrors.ErrUnencodable{Field: field, Err: err}
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, serdeErrors.ErrUnencodable{Field: field, Err: err}
	}
	s, err := structpb.NewStruct(normalized)
	if err != nil {
		return nil, fmt.Errorf("building %s struct: %w", field, err)
	}
	return s, nil
}
