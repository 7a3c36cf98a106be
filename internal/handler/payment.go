package handler

import (
	"net/http"

	"github.com/supportly/backend/internal/contextkeys"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
	"github.com/supportly/backend/internal/service"
)

type PaymentHandler struct {
	checkout *service.CheckoutService
	auth     *service.AuthService
}

func NewPaymentHandler(checkout *service.CheckoutService, auth *service.AuthService) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, auth: auth}
}

// claimsFrom returns the caller's verified claims set by the Auth middleware.
func claimsFrom(r *http.Request) (*domain.JWTClaims, bool) {
	c, ok := r.Context().Value(contextkeys.Claims).(*domain.JWTClaims)
	if !ok || c == nil || c.Sub == "" {
		return nil, false
	}
	return c, true
}

// CreateCheckout handles POST /api/checkout.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	// The supporter's address is needed later for lifecycle emails.
	if err := h.auth.RememberUser(r.Context(), claims); err != nil {
		logging.Warn().Err(err).Str("user_id", claims.Sub).Msg("failed to record user")
	}

	resp, err := h.checkout.CreateCheckout(r.Context(), claims, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}
