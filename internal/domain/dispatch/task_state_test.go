package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskState_ValidateTransition(t *testing.T) {
	t.Parallel()

	all := []TaskState{
		TaskStateWaiting, TaskStateRunning, TaskStateSuspended, TaskStateFinished,
		TaskStateError, TaskStateCanceled, TaskStateSkipped,
	}
	legal := map[TaskState][]TaskState{
		TaskStateWaiting:   {TaskStateRunning, TaskStateCanceled, TaskStateSkipped},
		TaskStateRunning:   {TaskStateFinished, TaskStateError, TaskStateSuspended},
		TaskStateSuspended: {TaskStateCanceled},
	}

	for _, from := range all {
		for _, to := range all {
			from, to := from, to
			want := containsState(legal[from], to)
			t.Run(from.String()+" to "+to.String(), func(t *testing.T) {
				t.Parallel()
				err := from.ValidateTransition(to)
				if want {
					assert.NoError(t, err)
				} else {
					assert.Error(t, err)
				}
			})
		}
	}
}

func TestTaskState_IsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range CompleteStates {
		assert.True(t, s.IsTerminal(), s.String())
	}
	for _, s := range []TaskState{TaskStateWaiting, TaskStateRunning, TaskStateSuspended} {
		assert.False(t, s.IsTerminal(), s.String())
	}
}

func TestParseTaskState(t *testing.T) {
	t.Parallel()

	for _, want := range []string{"waiting", "running", "suspended", "finished", "error", "canceled", "skipped"} {
		got, err := ParseTaskState(want)
		require.NoError(t, err)
		assert.Equal(t, want, got.JSON())
	}

	_, err := ParseTaskState("cancelled")
	assert.True(t, errors.Is(err, ErrTaskStateUnknown))
}
