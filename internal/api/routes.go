package api

import (
	"net/http"
	"workloadlauncher/internal/health"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	HealthChecker  *health.Checker
	MetricsHandler http.Handler // Prometheus exposition (optional)
}

// NewRouter creates the router for probe and metrics endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.HealthChecker)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Outermost first
	var h http.Handler = mux
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)
	return h
}
