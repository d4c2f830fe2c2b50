package dispatch

import (
	"errors"
	"fmt"
)

// TaskState represents the lifecycle state of a single call. The string
// values double as the JSON representation handed to API consumers.
type TaskState string

// ErrTaskStateUnknown is returned when a task state cannot be parsed.
var ErrTaskStateUnknown = errors.New("task state unknown")

const (
	// TaskStateWaiting is the initial state: submitted but not yet running.
	TaskStateWaiting TaskState = "waiting"

	// TaskStateRunning indicates the callable is executing.
	TaskStateRunning TaskState = "running"

	// TaskStateSuspended indicates cancellation was initiated but the
	// callable has not yet confirmed it stopped.
	TaskStateSuspended TaskState = "suspended"

	// TaskStateFinished indicates the callable returned successfully.
	TaskStateFinished TaskState = "finished"

	// TaskStateError indicates the callable failed or panicked.
	TaskStateError TaskState = "error"

	// TaskStateCanceled indicates cancellation completed.
	TaskStateCanceled TaskState = "canceled"

	// TaskStateSkipped indicates the call never ran because it was rejected
	// or a precondition was not met.
	TaskStateSkipped TaskState = "skipped"
)

// CompleteStates are the terminal states.
var CompleteStates = []TaskState{TaskStateFinished, TaskStateError, TaskStateCanceled, TaskStateSkipped}

// String returns the string representation of the TaskState.
func (s TaskState) String() string { return string(s) }

// JSON returns the state string used in serialized call reports.
func (s TaskState) JSON() string { return string(s) }

// IsTerminal reports whether no further transitions are possible.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateFinished, TaskStateError, TaskStateCanceled, TaskStateSkipped:
		return true
	default:
		return false
	}
}

// ParseTaskState converts a string to a TaskState.
func ParseTaskState(s string) (TaskState, error) {
	switch st := TaskState(s); st {
	case TaskStateWaiting, TaskStateRunning, TaskStateSuspended, TaskStateFinished,
		TaskStateError, TaskStateCanceled, TaskStateSkipped:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrTaskStateUnknown, s)
	}
}

// ValidateTransition checks if a state transition is legal and returns an error if not.
func (s TaskState) ValidateTransition(target TaskState) error {
	if !s.CanTransitionTo(target) {
		return fmt.Errorf("invalid task state transition from %s to %s", s, target)
	}
	return nil
}

// CanTransitionTo checks if the current state can move to the target state.
func (s TaskState) CanTransitionTo(target TaskState) bool {
	switch s {
	case TaskStateWaiting:
		// Cancel before running, or skip when rejected / a dependency failed.
		return target == TaskStateRunning || target == TaskStateCanceled || target == TaskStateSkipped
	case TaskStateRunning:
		return target == TaskStateFinished || target == TaskStateError || target == TaskStateSuspended
	case TaskStateSuspended:
		return target == TaskStateCanceled
	default:
		// Terminal states.
		return false
	}
}

// containsState reports whether state is in states.
func containsState(states []TaskState, state TaskState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
