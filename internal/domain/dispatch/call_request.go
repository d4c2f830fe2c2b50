package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const obfuscated = "**OBFUSCATED**"

// CallRequest is a unit of deferred, resource-tagged work. It is immutable
// once constructed; only its CallReport changes as it executes.
type CallRequest struct {
	id           string
	call         Callable
	callableName string

	args   []any
	kwargs map[string]any

	resources    []ResourceTag
	dependencies map[string][]TaskState

	weight        int
	tags          []string
	timeout       time.Duration
	asynchronous  bool
	archive       bool
	obfuscateArgs bool

	executionHooks map[ExecutionHook][]ExecutionHookFunc
	controlHooks   map[ControlHook]ControlHookFunc

	submitted atomic.Bool
}

// CallRequestOption configures a CallRequest at construction.
type CallRequestOption func(*CallRequest)

// WithArgs sets the positional arguments.
func WithArgs(args ...any) CallRequestOption {
	return func(r *CallRequest) { r.args = append([]any(nil), args...) }
}

// WithKwargs sets the keyword arguments.
func WithKwargs(kwargs map[string]any) CallRequestOption {
	return func(r *CallRequest) {
		r.kwargs = make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			r.kwargs[k] = v
		}
	}
}

// WithResource adds a resource tag. A later tag for the same resource
// replaces the earlier one.
func WithResource(tag ResourceTag) CallRequestOption {
	return func(r *CallRequest) {
		for i, existing := range r.resources {
			if existing.Key() == tag.Key() {
				r.resources[i] = tag
				return
			}
		}
		r.resources = append(r.resources, tag)
	}
}

// ReadsResource tags the call as reading a resource.
func ReadsResource(typ ResourceType, id string) CallRequestOption {
	return WithResource(NewResourceTag(typ, id, OperationRead))
}

// CreatesResource tags the call as creating a resource.
func CreatesResource(typ ResourceType, id string) CallRequestOption {
	return WithResource(NewResourceTag(typ, id, OperationCreate))
}

// UpdatesResource tags the call as updating a resource.
func UpdatesResource(typ ResourceType, id string) CallRequestOption {
	return WithResource(NewResourceTag(typ, id, OperationUpdate))
}

// DeletesResource tags the call as deleting a resource.
func DeletesResource(typ ResourceType, id string) CallRequestOption {
	return WithResource(NewResourceTag(typ, id, OperationDelete))
}

// ExecutesResource tags the call as executing an action on a resource.
func ExecutesResource(typ ResourceType, id string) CallRequestOption {
	return WithResource(NewResourceTag(typ, id, OperationExecute))
}

// WithWeight sets the concurrency weight of the call. The default is 1.
func WithWeight(weight int) CallRequestOption {
	return func(r *CallRequest) { r.weight = weight }
}

// WithTags adds descriptive tags.
func WithTags(tags ...string) CallRequestOption {
	return func(r *CallRequest) { r.tags = append(r.tags, tags...) }
}

// WithCallableName overrides the name derived from the callable.
func WithCallableName(name string) CallRequestOption {
	return func(r *CallRequest) { r.callableName = name }
}

// WithTimeout bounds the running time of the call.
func WithTimeout(d time.Duration) CallRequestOption {
	return func(r *CallRequest) { r.timeout = d }
}

// Asynchronous marks the call as completed externally through the
// coordinator's completion methods rather than by the callable's return.
func Asynchronous() CallRequestOption {
	return func(r *CallRequest) { r.asynchronous = true }
}

// Archived requests that the completed report be archived.
func Archived() CallRequestOption {
	return func(r *CallRequest) { r.archive = true }
}

// ObfuscateArgs hides argument values when the request is rendered.
func ObfuscateArgs() CallRequestOption {
	return func(r *CallRequest) { r.obfuscateArgs = true }
}

// DependsOn makes the call wait for another call to complete. When states
// is empty any terminal state satisfies the dependency; otherwise the
// dependency must end in one of states or this call is skipped.
func DependsOn(callRequestID string, states ...TaskState) CallRequestOption {
	return func(r *CallRequest) {
		if r.dependencies == nil {
			r.dependencies = make(map[string][]TaskState)
		}
		r.dependencies[callRequestID] = append([]TaskState(nil), states...)
	}
}

// WithExecutionHook appends a hook to run at the given lifecycle point.
func WithExecutionHook(hook ExecutionHook, fn ExecutionHookFunc) CallRequestOption {
	return func(r *CallRequest) {
		r.executionHooks[hook] = append(r.executionHooks[hook], fn)
	}
}

// WithControlHook sets the single hook for a control point.
func WithControlHook(hook ControlHook, fn ControlHookFunc) CallRequestOption {
	return func(r *CallRequest) { r.controlHooks[hook] = fn }
}

// NewCallRequest builds a call request around call.
func NewCallRequest(call Callable, opts ...CallRequestOption) (*CallRequest, error) {
	if call == nil {
		return nil, errors.New("call request requires a callable")
	}

	r := &CallRequest{
		id:             uuid.New().String(),
		call:           call,
		weight:         1,
		kwargs:         map[string]any{},
		executionHooks: make(map[ExecutionHook][]ExecutionHookFunc),
		controlHooks:   make(map[ControlHook]ControlHookFunc),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.weight < 0 {
		return nil, fmt.Errorf("call request weight must be non-negative, got %d", r.weight)
	}
	if r.timeout < 0 {
		return nil, fmt.Errorf("call request timeout must be non-negative, got %s", r.timeout)
	}
	for _, tag := range r.resources {
		if err := tag.Validate(); err != nil {
			return nil, fmt.Errorf("invalid resource tag: %w", err)
		}
	}
	for hook := range r.executionHooks {
		switch hook {
		case ExecutionHookFinish, ExecutionHookComplete, ExecutionHookError:
		default:
			return nil, fmt.Errorf("unknown execution hook %q", hook)
		}
	}
	for hook := range r.controlHooks {
		if hook != ControlHookProgress && hook != ControlHookCancel {
			return nil, fmt.Errorf("unknown control hook %q", hook)
		}
	}
	if r.callableName == "" {
		r.callableName = funcName(call)
	}

	return r, nil
}

// ID returns the unique call request id.
func (r *CallRequest) ID() string { return r.id }

// Call returns the wrapped callable.
func (r *CallRequest) Call() Callable { return r.call }

// CallableName returns the name of the wrapped callable.
func (r *CallRequest) CallableName() string { return r.callableName }

// Args returns a copy of the positional arguments.
func (r *CallRequest) Args() []any { return append([]any(nil), r.args...) }

// Kwargs returns a copy of the keyword arguments.
func (r *CallRequest) Kwargs() map[string]any {
	out := make(map[string]any, len(r.kwargs))
	for k, v := range r.kwargs {
		out[k] = v
	}
	return out
}

// Resources returns a copy of the resource tags.
func (r *CallRequest) Resources() []ResourceTag {
	return append([]ResourceTag(nil), r.resources...)
}

// Dependencies returns a copy of the call request ids this call waits on
// mapped to the completion states that satisfy them.
func (r *CallRequest) Dependencies() map[string][]TaskState {
	out := make(map[string][]TaskState, len(r.dependencies))
	for id, states := range r.dependencies {
		out[id] = append([]TaskState(nil), states...)
	}
	return out
}

// Weight returns the concurrency weight.
func (r *CallRequest) Weight() int { return r.weight }

// Tags returns a copy of the descriptive tags.
func (r *CallRequest) Tags() []string { return append([]string(nil), r.tags...) }

// Timeout returns the running time bound, zero meaning unbounded.
func (r *CallRequest) Timeout() time.Duration { return r.timeout }

// IsAsynchronous reports whether completion is reported externally.
func (r *CallRequest) IsAsynchronous() bool { return r.asynchronous }

// Archive reports whether the completed report should be archived.
func (r *CallRequest) Archive() bool { return r.archive }

// ExecutionHooks returns the hooks registered for a lifecycle point in
// registration order.
func (r *CallRequest) ExecutionHooks(hook ExecutionHook) []ExecutionHookFunc {
	return append([]ExecutionHookFunc(nil), r.executionHooks[hook]...)
}

// ControlHook returns the hook registered for a control point, or nil.
func (r *CallRequest) ControlHook(hook ControlHook) ControlHookFunc {
	return r.controlHooks[hook]
}

// MarkSubmitted records that the request was handed to a coordinator. A
// request may be submitted only once.
func (r *CallRequest) MarkSubmitted() error {
	if !r.submitted.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, r.id)
	}
	return nil
}

// Submitted reports whether the request was handed to a coordinator.
func (r *CallRequest) Submitted() bool { return r.submitted.Load() }

// UnmarkSubmitted undoes MarkSubmitted for a request that was never admitted.
func (r *CallRequest) UnmarkSubmitted() { r.submitted.Store(false) }

// SatisfiedBy reports whether a dependency that completed in state satisfies
// this request.
func (r *CallRequest) SatisfiedBy(dependencyID string, state TaskState) bool {
	states, ok := r.dependencies[dependencyID]
	if !ok {
		return true
	}
	if len(states) == 0 {
		return state.IsTerminal()
	}
	return containsState(states, state)
}

// String renders the request as CallRequest: name(args, k=v).
func (r *CallRequest) String() string {
	parts := make([]string, 0, len(r.args)+len(r.kwargs))
	for _, a := range r.args {
		parts = append(parts, r.repr(a))
	}

	keys := make([]string, 0, len(r.kwargs))
	for k := range r.kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, r.repr(r.kwargs[k])))
	}

	return fmt.Sprintf("CallRequest: %s(%s)", r.callableName, strings.Join(parts, ", "))
}

func (r *CallRequest) repr(v any) string {
	if r.obfuscateArgs {
		return obfuscated
	}
	return fmt.Sprintf("%#v", v)
}

func funcName(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return "UNKNOWN_CALL"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
