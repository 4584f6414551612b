package server

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker probes a downstream dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves liveness, readiness, and version endpoints.
type HealthHandler struct {
	version string
	store   HealthChecker
}

// NewHealthHandler creates the health handler. store may be nil in
// tests.
func NewHealthHandler(version string, store HealthChecker) *HealthHandler {
	return &HealthHandler{version: version, store: store}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HandleHealth handles GET /health. Liveness only: the process is up.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: h.version})
}

// HandleReady handles GET /ready. Readiness probes the store.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	overall := "ready"

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := h.store.HealthCheck(ctx); err != nil {
			checks["store"] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "not_ready"
		} else {
			checks["store"] = "ok"
		}
	}

	writeJSON(w, status, readyResponse{Status: overall, Checks: checks})
}

// HandleVersion handles GET /v1/version.
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// RegisterRoutes registers the health routes on the mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /v1/version", h.HandleVersion)
}
