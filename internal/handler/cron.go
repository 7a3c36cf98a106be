package handler

import (
	"errors"
	"net/http"

	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/service"
)

// CronHandler exposes the expiry sweep to an external scheduler.
type CronHandler struct {
	scheduler *service.ExpiryScheduler
}

// NewCronHandler creates a new CronHandler.
func NewCronHandler(scheduler *service.ExpiryScheduler) *CronHandler {
	return &CronHandler{scheduler: scheduler}
}

// Expirations handles POST /api/cron/expirations.
func (h *CronHandler) Expirations(w http.ResponseWriter, r *http.Request) {
	res, err := h.scheduler.RunOnce(r.Context())
	if errors.Is(err, service.ErrSweepRunning) {
		Error(w, domain.ErrConflict("a sweep is already running"))
		return
	}
	if err != nil {
		Error(w, domain.ErrInternal("expiry sweep failed", err))
		return
	}
	JSON(w, http.StatusOK, res)
}
