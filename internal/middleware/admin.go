package middleware

import (
	"net/http"

	"github.com/supportly/backend/internal/contextkeys"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/handler"
)

// AdminOnly middleware ensures the user has 'admin' role.
// Must be used AFTER Auth middleware which sets the claims in context.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(contextkeys.Claims).(*domain.JWTClaims)
		if !ok || !claims.IsAdmin() {
			handler.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden: admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
