package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesStructuredRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "dispatcher", func(context.Context) string { return "trace-1" })

	log.With("component", "coordinator").Info(context.Background(), "call admitted", "call_request_id", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "call admitted", rec["msg"])
	assert.Equal(t, "dispatcher", rec["service"])
	assert.Equal(t, "coordinator", rec["component"])
	assert.Equal(t, "abc", rec["call_request_id"])
	assert.Equal(t, "trace-1", rec["trace_id"])
}

func TestLogger_RespectsMinLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "dispatcher", nil)

	log.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "kept")
	assert.NotZero(t, buf.Len())
}

func TestLogger_ErrorEventFires(t *testing.T) {
	t.Parallel()

	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	var buf bytes.Buffer
	log := NewWithMetadata(&buf, LevelDebug, "dispatcher", nil, events, map[string]string{"hostname": "h1"})
	log.Error(context.Background(), "hook panicked", "hook", "finish")

	assert.Equal(t, "hook panicked", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "finish", got.Attributes["hook"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
