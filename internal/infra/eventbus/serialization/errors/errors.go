package serializationerrors

import "fmt"

// ErrNilEvent indicates that a nil event was provided for serialization/deserialization
type ErrNilEvent struct{ EventType string }

func (e ErrNilEvent) Error() string { return fmt.Sprintf("nil %s event", e.EventType) }

// ErrPayloadType indicates a payload whose Go type does not match its event type.
type ErrPayloadType struct {
	EventType string
	Got       any
}

func (e ErrPayloadType) Error() string {
	return fmt.Sprintf("payload for %s has unexpected type %T", e.EventType, e.Got)
}

// ErrUnencodable indicates a payload field that has no protobuf representation.
type ErrUnencodable struct {
	Field string
	Err   error
}

func (e ErrUnencodable) Error() string { return fmt.Sprintf("cannot encode %s: %v", e.Field, e.Err) }

func (e ErrUnencodable) Unwrap() error { return e.Err }
