package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/telhawk-systems/telhawk-lake/common/httputil"
	"github.com/telhawk-systems/telhawk-lake/common/middleware"
)

// StatusSource reports the sink's lifecycle state.
type StatusSource interface {
	// Status returns the state name and whether the sink is accepting records.
	Status() (state string, ready bool)
}

// NewRouter constructs a ServeMux with the sink's operational routes.
func NewRouter(src StatusSource, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/healthz", httputil.MethodGuard(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}, http.MethodGet, http.MethodHead))
	mux.HandleFunc("/readyz", httputil.MethodGuard(func(w http.ResponseWriter, _ *http.Request) {
		state, ready := src.Status()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{"state": state, "ready": ready})
	}, http.MethodGet, http.MethodHead))

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger, mux))
}
