package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestViperLoader_Defaults(t *testing.T) {
	cfg, err := NewViperLoader("").Load(context.Background())
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Coordinator, cfg.Coordinator)
	assert.Equal(t, def.Archive, cfg.Archive)
	assert.Equal(t, def.Postgres, cfg.Postgres)
	assert.Equal(t, def.Telemetry, cfg.Telemetry)
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Log, cfg.Log)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestViperLoader_FileAndEnv(t *testing.T) {
	path := writeFile(t, "dispatch.yaml", `
coordinator:
  concurrency_threshold: 8
  cancel_timeout: 3s
kafka:
  brokers: ["kafka-0:9092"]
log:
  level: debug
`)
	t.Setenv("DISPATCH_COORDINATOR_CANCEL_TIMEOUT", "45s")
	t.Setenv("DISPATCH_POSTGRES_DSN", "postgres://dispatch@db:5432/dispatch")

	cfg, err := NewViperLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(8), cfg.Coordinator.ConcurrencyThreshold)
	assert.Equal(t, 45*time.Second, cfg.Coordinator.CancelTimeout, "environment overrides the file")
	assert.Equal(t, []string{"kafka-0:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "postgres://dispatch@db:5432/dispatch", cfg.Postgres.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestViperLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		env  map[string]string
	}{
		{name: "missing file", path: filepath.Join(os.TempDir(), "does-not-exist-dispatch.yaml")},
		{name: "invalid value", env: map[string]string{"DISPATCH_LOG_LEVEL": "loud"}},
		{name: "undecodable duration", env: map[string]string{"DISPATCH_SERVER_SHUTDOWN_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewViperLoader(tt.path).Load(context.Background())
			assert.Error(t, err)
		})
	}
}
