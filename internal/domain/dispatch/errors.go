package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRejected is matched by every RejectedError.
	ErrRejected = errors.New("call request rejected")

	// ErrPostponed marks a call queued behind conflicting calls. It is a soft
	// condition reported through CallReport.Response, never returned as a failure.
	ErrPostponed = errors.New("call request postponed")

	// ErrStillQueued is matched by every StillQueuedError.
	ErrStillQueued = errors.New("call request still queued")

	// ErrCancellationUnconfirmed is matched by CancellationErrors for calls
	// that did not confirm they stopped.
	ErrCancellationUnconfirmed = errors.New("cancellation not confirmed")

	// ErrCallNotFound is returned when no call matches a call request id.
	ErrCallNotFound = errors.New("call not found")

	// ErrAlreadySubmitted is returned when a request is submitted twice.
	ErrAlreadySubmitted = errors.New("call request already submitted")

	// ErrDependencyCycle is returned when a call group's dependencies form a cycle.
	ErrDependencyCycle = errors.New("call request dependency cycle")

	// ErrNotAsynchronous is returned when external completion targets a call
	// that completes on its own.
	ErrNotAsynchronous = errors.New("call request is not asynchronous")

	// ErrCallComplete is returned when cancelling a call that already completed.
	ErrCallComplete = errors.New("call already complete")
)

// RejectedError reports a call (or call group) that was refused outright
// because of an unresolvable resource conflict.
type RejectedError struct {
	CallRequestIDs []string
	Reasons        []ResourceTag
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("call request %s rejected: conflicting resources [%s]",
		strings.Join(e.CallRequestIDs, ", "), joinTags(e.Reasons))
}

// Unwrap lets errors.Is match ErrRejected.
func (e *RejectedError) Unwrap() error { return ErrRejected }

// StillQueuedError reports a call that was still waiting on conflicting
// resources when the caller's start timeout expired. The call remains queued.
type StillQueuedError struct {
	CallRequestID string
	Timeout       time.Duration
	Reasons       []ResourceTag
}

func (e *StillQueuedError) Error() string {
	return fmt.Sprintf("call request %s still queued after %s: waiting on [%s]",
		e.CallRequestID, e.Timeout, joinTags(e.Reasons))
}

// Unwrap lets errors.Is match ErrStillQueued.
func (e *StillQueuedError) Unwrap() error { return ErrStillQueued }

// ExecutionError wraps a failure raised by a callable. It is recorded on the
// call report and never returned to the coordinator's callers.
type ExecutionError struct {
	CallRequestID string
	Panicked      bool
	Err           error
}

func (e *ExecutionError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("call request %s panicked: %v", e.CallRequestID, e.Err)
	}
	return fmt.Sprintf("call request %s failed: %v", e.CallRequestID, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ExecutionError) Unwrap() error { return e.Err }

// CancellationError reports a cancellation that could not be carried out or
// confirmed.
type CancellationError struct {
	CallRequestID string
	Err           error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancel call request %s: %v", e.CallRequestID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CancellationError) Unwrap() error { return e.Err }

func joinTags(tags []ResourceTag) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ", ")
}
