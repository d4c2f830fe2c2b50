package dispatch

import "context"

// Conduit is the callable's window back into the dispatch core while it runs.
type Conduit interface {
	// Args returns a copy of the positional arguments of the call.
	Args() []any

	// Kwargs returns a copy of the keyword arguments of the call.
	Kwargs() map[string]any

	// ReportProgress replaces the progress mapping of the call report and
	// forwards it to the PROGRESS control hook when one is registered.
	ReportProgress(progress map[string]any)

	// Cancelled reports whether cancellation or a timeout has been requested.
	// Long-running work should check it at its yield points.
	Cancelled() bool

	// Spawn runs fn on a new goroutine registered as a child of the call, so
	// that an interrupt raised on the call also reaches it.
	Spawn(name string, fn func(ctx context.Context))

	// Acknowledge confirms that an interrupt delivered to the call was observed.
	Acknowledge()

	// RegisterInterrupter adds a function invoked every time an interrupt is
	// delivered, for work blocked in code that does not watch its context
	// (closing a socket, killing a child process).
	RegisterInterrupter(fn func())
}

// Callable is the unit of work wrapped by a CallRequest. The context is
// cancelled when the call is cancelled or times out; context.Cause reports which.
type Callable func(ctx context.Context, conduit Conduit) (any, error)

// ExecutionHook names a lifecycle point at which execution hooks run.
type ExecutionHook string

const (
	ExecutionHookFinish   ExecutionHook = "finish"
	ExecutionHookComplete ExecutionHook = "complete"
	ExecutionHookError    ExecutionHook = "error"
)

// ExecutionHookFunc observes a call at a lifecycle point. Hooks receive a
// snapshot of the report and cannot change it.
type ExecutionHookFunc func(ctx context.Context, req *CallRequest, report CallReport)

// ControlHook names a hook that controls a running call.
type ControlHook string

const (
	ControlHookProgress ControlHook = "progress"
	ControlHookCancel   ControlHook = "cancel"
)

// ControlHookFunc controls a running call. A CANCEL hook returning an error
// means the call was not cancelled.
type ControlHookFunc func(ctx context.Context, req *CallRequest, report CallReport) error
