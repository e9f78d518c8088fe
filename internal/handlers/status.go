package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"metricwatch/internal/engine"
	"metricwatch/internal/logger"
)

// EngineView is the read-only engine surface the handlers need
type EngineView interface {
	Status() engine.Status
	Stats() engine.Stats
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// StatusHandler serves the engine's current alarm state and counters.
// It never exposes observation history.
type StatusHandler struct {
	engine EngineView
	checks map[string]HealthCheck
}

// NewStatusHandler creates a handler over e. checks are run by /health.
func NewStatusHandler(e EngineView, checks map[string]HealthCheck) *StatusHandler {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &StatusHandler{engine: e, checks: checks}
}

// Register mounts /health, /stats and /alarms on mux
func (h *StatusHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /alarms", h.Alarms)
}

// Alarms returns the per-metric alarm states as of the last tick
func (h *StatusHandler) Alarms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Stats returns engine and worker counters
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// Health runs every dependency check with a short timeout
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := make(map[string]string)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"failures":  failures,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.WithComponent("handlers")
		log.Error().Err(err).Msg("failed to encode response")
	}
}
