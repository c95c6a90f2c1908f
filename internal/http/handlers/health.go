package handlers

import (
	"context"
	"net/http"
	"time"
)

// pinger is anything with a connectivity check, e.g. *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process and database liveness.
type HealthHandler struct {
	db pinger
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(db pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check returns 200 while the process and its database are reachable.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}

	writeJSON(w, http.StatusOK, status)
}
