package handler

import (
	"net/http"

	"github.com/supportly/backend/internal/service"
)

// AuthHandler handles authentication HTTP endpoints. Tokens are issued by the
// identity provider; this service only verifies them.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Me handles GET /api/me. It returns the verified claims and records the caller's
// contact details for lifecycle emails.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if err := h.auth.RememberUser(r.Context(), claims); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, claims)
}
