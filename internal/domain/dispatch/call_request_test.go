package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, Conduit) (any, error) { return nil, nil }

func TestNewCallRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		call    Callable
		opts    []CallRequestOption
		wantErr bool
	}{
		{name: "defaults", call: noop},
		{name: "nil callable", call: nil, wantErr: true},
		{name: "negative weight", call: noop, opts: []CallRequestOption{WithWeight(-1)}, wantErr: true},
		{name: "zero weight", call: noop, opts: []CallRequestOption{WithWeight(0)}},
		{name: "negative timeout", call: noop, opts: []CallRequestOption{WithTimeout(-time.Second)}, wantErr: true},
		{name: "invalid resource", call: noop, opts: []CallRequestOption{ReadsResource("bogus", "x")}, wantErr: true},
		{
			name:    "unknown execution hook",
			call:    noop,
			opts:    []CallRequestOption{WithExecutionHook("begin", func(context.Context, *CallRequest, CallReport) {})},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := NewCallRequest(tt.call, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, req.ID())
		})
	}
}

func TestCallRequest_Defaults(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop)
	require.NoError(t, err)

	assert.Equal(t, 1, req.Weight())
	assert.Contains(t, req.CallableName(), "noop")
	assert.Empty(t, req.Resources())
	assert.False(t, req.IsAsynchronous())
	assert.False(t, req.Archive())

	other, err := NewCallRequest(noop)
	require.NoError(t, err)
	assert.NotEqual(t, req.ID(), other.ID())
}

func TestCallRequest_WithResourceReplacesSameKey(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop,
		ReadsResource(ResourceTypeRepository, "zoo"),
		UpdatesResource(ResourceTypeRepository, "zoo"),
		ReadsResource(ResourceTypeConsumer, "c1"),
	)
	require.NoError(t, err)

	assert.Equal(t, []ResourceTag{
		NewResourceTag(ResourceTypeRepository, "zoo", OperationUpdate),
		NewResourceTag(ResourceTypeConsumer, "c1", OperationRead),
	}, req.Resources())
}

func TestCallRequest_MarkSubmitted(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop)
	require.NoError(t, err)

	assert.False(t, req.Submitted())
	require.NoError(t, req.MarkSubmitted())
	assert.True(t, req.Submitted())
	err = req.MarkSubmitted()
	assert.True(t, errors.Is(err, ErrAlreadySubmitted))

	req.UnmarkSubmitted()
	assert.False(t, req.Submitted())
	assert.NoError(t, req.MarkSubmitted())
}

func TestCallRequest_SatisfiedBy(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop,
		DependsOn("any"),
		DependsOn("ok", TaskStateFinished),
	)
	require.NoError(t, err)

	assert.True(t, req.SatisfiedBy("any", TaskStateError))
	assert.False(t, req.SatisfiedBy("any", TaskStateRunning))
	assert.True(t, req.SatisfiedBy("ok", TaskStateFinished))
	assert.False(t, req.SatisfiedBy("ok", TaskStateCanceled))
	assert.True(t, req.SatisfiedBy("unrelated", TaskStateError))
}

func TestCallRequest_String(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop,
		WithCallableName("sync"),
		WithArgs("zoo"),
		WithKwargs(map[string]any{"force": true, "attempts": 3}),
	)
	require.NoError(t, err)
	assert.Equal(t, `CallRequest: sync("zoo", attempts=3, force=true)`, req.String())

	hidden, err := NewCallRequest(noop,
		WithCallableName("login"),
		WithArgs("admin"),
		WithKwargs(map[string]any{"password": "hunter2"}),
		ObfuscateArgs(),
	)
	require.NoError(t, err)
	assert.Equal(t, "CallRequest: login(**OBFUSCATED**, password=**OBFUSCATED**)", hidden.String())
	assert.NotContains(t, hidden.String(), "hunter2")
}

func TestCallRequest_GettersReturnCopies(t *testing.T) {
	t.Parallel()

	req, err := NewCallRequest(noop, WithArgs(1), WithKwargs(map[string]any{"k": "v"}), WithTags("a"))
	require.NoError(t, err)

	args := req.Args()
	args[0] = 2
	kwargs := req.Kwargs()
	kwargs["k"] = "changed"
	tags := req.Tags()
	tags[0] = "b"

	assert.Equal(t, []any{1}, req.Args())
	assert.Equal(t, map[string]any{"k": "v"}, req.Kwargs())
	assert.Equal(t, []string{"a"}, req.Tags())
}
