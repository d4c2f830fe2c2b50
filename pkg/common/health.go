package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HealthServer answers liveness and readiness probes. Readiness follows the
// ready flag, which the owning process flips once its dependencies are up.
type HealthServer struct {
	ready  *atomic.Bool
	server *http.Server
}

// NewHealthServer creates a HealthServer listening on addr.
func NewHealthServer(addr string, ready *atomic.Bool) *HealthServer {
	h := &HealthServer{ready: ready}
	h.server = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(h.Handler(), "health"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// Handler returns the probe routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	return mux
}

// ListenAndServe blocks serving probes until the server is shut down.
func (h *HealthServer) ListenAndServe() error {
	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Server exposes the underlying http.Server for shutdown.
func (h *HealthServer) Server() *http.Server { return h.server }

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
