package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	db   Pinger
	chat Pinger
}

// NewHealthHandler creates a new HealthHandler. db is nil when running on the
// in-memory store.
func NewHealthHandler(db, chat Pinger) *HealthHandler {
	return &HealthHandler{db: db, chat: chat}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "ok",
	}

	// Check DB
	switch {
	case h.db == nil:
		status["database"] = "memory"
	case h.db.Ping(ctx) != nil:
		status["database"] = "error"
		status["status"] = "degraded"
	default:
		status["database"] = "ok"
	}

	// The chat service is a side effect; losing it degrades membership sync only.
	if h.chat != nil {
		if err := h.chat.Ping(ctx); err != nil {
			status["chat"] = "error"
		} else {
			status["chat"] = "ok"
		}
	}

	code := http.StatusOK
	if status["status"] == "degraded" {
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, status)
}
