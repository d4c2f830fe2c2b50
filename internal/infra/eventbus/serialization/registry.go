// Package serialization translates dispatch domain events to and from their
// protobuf wire form. Serializers are registered per event type, so adding an
// event means registering one more pair of functions.
//
// Call payloads are open-ended maps, so they travel as google.protobuf.Struct
// messages; event timestamps travel as google.protobuf.Timestamp.
package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/domain/events"
)

// SerializeFunc converts a domain event into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into the decoded
// event fields.
type DeserializeFunc func(data []byte) (map[string]any, error)

var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers the serializer for an event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers the deserializer for an event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

// SerializePayload encodes payload with the serializer registered for eventType.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	fn, ok := serializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}
	return fn(payload)
}

// DeserializePayload decodes data with the deserializer registered for eventType.
func DeserializePayload(eventType events.EventType, data []byte) (map[string]any, error) {
	fn, ok := deserializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}
	return fn(data)
}

func init() {
	RegisterEventSerializers()
}

// RegisterEventSerializers registers every dispatch event type.
func RegisterEventSerializers() {
	RegisterSerializeFunc(dispatch.EventTypeCallEnqueued, serializeCallEnqueued)
	RegisterDeserializeFunc(dispatch.EventTypeCallEnqueued, deserializeStruct)

	RegisterSerializeFunc(dispatch.EventTypeCallStarted, serializeCallStarted)
	RegisterDeserializeFunc(dispatch.EventTypeCallStarted, deserializeStruct)

	RegisterSerializeFunc(dispatch.EventTypeCallProgressed, serializeCallProgressed)
	RegisterDeserializeFunc(dispatch.EventTypeCallProgressed, deserializeStruct)

	RegisterSerializeFunc(dispatch.EventTypeCallCompleted, serializeCallCompleted)
	RegisterDeserializeFunc(dispatch.EventTypeCallCompleted, deserializeStruct)
}

// EncodeTimestamp returns the wire form of t.
func EncodeTimestamp(t time.Time) ([]byte, error) {
	return proto.Marshal(timestamppb.New(t))
}

// DecodeTimestamp parses a timestamp produced by EncodeTimestamp.
func DecodeTimestamp(data []byte) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(data, &ts); err != nil {
		return time.Time{}, fmt.Errorf("unmarshal Timestamp: %w", err)
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, err
	}
	return ts.AsTime(), nil
}

func deserializeStruct(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal Struct: %w", err)
	}
	return s.AsMap(), nil
}
