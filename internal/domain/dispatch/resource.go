// Package dispatch holds the domain model of the task dispatch core: resource
// tags and their conflict rules, call requests, call reports and the task
// state machine that governs a call's lifecycle.
package dispatch

import "fmt"

// ResourceType identifies the kind of contended resource a call touches.
type ResourceType string

const (
	ResourceTypeRepository            ResourceType = "repository"
	ResourceTypeRepositoryDistributor ResourceType = "repository_distributor"
	ResourceTypeRepositoryImporter    ResourceType = "repository_importer"
	ResourceTypeConsumer              ResourceType = "consumer"
	ResourceTypeConsumerGroup         ResourceType = "consumer_group"
	ResourceTypeContentUnit           ResourceType = "content_unit"
	ResourceTypeRole                  ResourceType = "role"
	ResourceTypePermission            ResourceType = "permission"
	ResourceTypeUser                  ResourceType = "user"
	ResourceTypeSchedule              ResourceType = "schedule"
)

// String returns the string representation of the ResourceType.
func (t ResourceType) String() string { return string(t) }

// IsValid reports whether t is one of the known resource types.
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceTypeRepository, ResourceTypeRepositoryDistributor, ResourceTypeRepositoryImporter,
		ResourceTypeConsumer, ResourceTypeConsumerGroup, ResourceTypeContentUnit,
		ResourceTypeRole, ResourceTypePermission, ResourceTypeUser, ResourceTypeSchedule:
		return true
	default:
		return false
	}
}

// Operation is the kind of access a call requests against a resource.
type Operation string

const (
	OperationRead    Operation = "read"
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationExecute Operation = "execute"
)

// String returns the string representation of the Operation.
func (o Operation) String() string { return string(o) }

// IsValid reports whether o is one of the known operations.
func (o Operation) IsValid() bool {
	switch o {
	case OperationRead, OperationCreate, OperationUpdate, OperationDelete, OperationExecute:
		return true
	default:
		return false
	}
}

// IsWrite reports whether the operation mutates the resource. Only write-class
// operations ever conflict.
func (o Operation) IsWrite() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// ResourceKey identifies a resource independent of the operation requested on it.
type ResourceKey struct {
	Type ResourceType
	ID   string
}

// String returns type:id.
func (k ResourceKey) String() string { return fmt.Sprintf("%s:%s", k.Type, k.ID) }

// ResourceTag is an immutable (type, id, operation) triple naming a resource a
// call touches and how it touches it.
type ResourceTag struct {
	Type      ResourceType `json:"resource_type"`
	ID        string       `json:"resource_id"`
	Operation Operation    `json:"operation"`
}

// NewResourceTag creates a ResourceTag.
func NewResourceTag(typ ResourceType, id string, op Operation) ResourceTag {
	return ResourceTag{Type: typ, ID: id, Operation: op}
}

// Key returns the operation-independent identity of the tagged resource.
func (r ResourceTag) Key() ResourceKey { return ResourceKey{Type: r.Type, ID: r.ID} }

// String returns type:id(operation).
func (r ResourceTag) String() string {
	return fmt.Sprintf("%s:%s(%s)", r.Type, r.ID, r.Operation)
}

// Validate checks that the tag names a known type and operation and a non-empty id.
func (r ResourceTag) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("invalid resource type %q", r.Type)
	}
	if r.ID == "" {
		return fmt.Errorf("empty resource id for resource type %q", r.Type)
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation %q on %s", r.Operation, r.Key())
	}
	return nil
}

// ConflictsWith reports whether two tags may not be held at the same time:
// they name the same resource and at least one of them is a write.
func (r ResourceTag) ConflictsWith(other ResourceTag) bool {
	if r.Type != other.Type || r.ID != other.ID {
		return false
	}
	return r.Operation.IsWrite() || other.Operation.IsWrite()
}

// ResponseTo decides how a proposed tag is answered when it conflicts with a
// tag that is already held or queued. Non-conflicting pairs are accepted.
//
// A pending delete rejects everything touching the resource, and a create is
// rejected against anything already holding the resource. Every other
// conflict is postponed until the holder releases.
func (r ResourceTag) ResponseTo(held ResourceTag) Response {
	if !r.ConflictsWith(held) {
		return ResponseAccepted
	}
	if held.Operation == OperationDelete || r.Operation == OperationCreate {
		return ResponseRejected
	}
	return ResponsePostponed
}
