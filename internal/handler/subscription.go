package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/service"
)

// SubscriptionHandler serves the supporter's view of one creator subscription.
type SubscriptionHandler struct {
	lifecycle *service.LifecycleService
	validate  *validator.Validate
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(lifecycle *service.LifecycleService) *SubscriptionHandler {
	return &SubscriptionHandler{lifecycle: lifecycle, validate: validator.New()}
}

// Current handles GET /api/subscriptions/{creatorID}.
func (h *SubscriptionHandler) Current(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	view, err := h.lifecycle.CurrentSubscription(r.Context(), claims.Sub, chi.URLParam(r, "creatorID"))
	if err != nil {
		Error(w, err)
		return
	}
	if view == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"status": "none"})
		return
	}
	JSON(w, http.StatusOK, view)
}

// Entitlement handles GET /api/subscriptions/{creatorID}/entitlement.
func (h *SubscriptionHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	creatorID := chi.URLParam(r, "creatorID")
	sup, err := h.lifecycle.Entitlement(r.Context(), claims.Sub, creatorID)
	if err != nil {
		Error(w, err)
		return
	}
	if sup == nil {
		JSON(w, http.StatusOK, domain.Supporter{SupporterID: claims.Sub, CreatorID: creatorID})
		return
	}
	JSON(w, http.StatusOK, sup)
}

// Cancel handles POST /api/subscriptions/{creatorID}/cancel. An empty body cancels
// with default options.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var opts domain.CancelOptions
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &opts); err != nil {
			Error(w, err)
			return
		}
	}
	if err := h.validate.Struct(&opts); err != nil {
		Error(w, domain.ErrValidation(err.Error()))
		return
	}

	res, err := h.lifecycle.Cancel(r.Context(), claims.Sub, chi.URLParam(r, "creatorID"), opts)
	if err != nil {
		Error(w, err)
		return
	}
	if !res.Success {
		JSON(w, http.StatusInternalServerError, res)
		return
	}
	JSON(w, http.StatusOK, res)
}
