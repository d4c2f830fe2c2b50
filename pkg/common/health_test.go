package common

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ready    bool
		path     string
		wantCode int
		wantBody string
	}{
		{name: "liveness while starting", ready: false, path: "/v1/health", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "readiness while starting", ready: false, path: "/v1/readiness", wantCode: http.StatusServiceUnavailable, wantBody: "not ready"},
		{name: "readiness once ready", ready: true, path: "/v1/readiness", wantCode: http.StatusOK, wantBody: "ready"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ready := &atomic.Bool{}
			ready.Store(tt.ready)
			h := NewHealthServer(":0", ready)

			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, `{"status":"`+tt.wantBody+`"}`, rec.Body.String())
		})
	}
}

func TestDebugServer_ServesMetrics(t *testing.T) {
	t.Parallel()

	srv, err := NewDebugServer(":0")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/statsviz/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
