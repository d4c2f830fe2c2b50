package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewDebugServer builds the operator-facing server: Prometheus scraping on
// /metrics and the statsviz runtime dashboard under /debug/statsviz/.
// Requests are traced; the sampler drops the scrape route.
func NewDebugServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := statsviz.Register(mux); err != nil {
		return nil, fmt.Errorf("registering statsviz: %w", err)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "debug"),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

// RunDebugServer serves srv until it is shut down.
func RunDebugServer(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
