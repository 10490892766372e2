// Package api serves the launcher's operational endpoints: probes and metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"workloadlauncher/internal/health"
)

// Handler serves the probe endpoints.
type Handler struct {
	health *health.Checker
}

// NewHandler creates a probe handler.
func NewHandler(healthChecker *health.Checker) *Handler {
	return &Handler{health: healthChecker}
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check the backend.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the backend is unreachable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
