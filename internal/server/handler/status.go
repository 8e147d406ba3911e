package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the runtime configuration summary.
type StatusHandler struct {
	Mode      string
	Storage   string
	Bus       string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, storage, bus string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Storage: storage, Bus: bus, StartedAt: startedAt}
}

// GetStatus responds with the run mode, backends and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"storage":        h.Storage,
		"bus":            h.Bus,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
