package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/supportly/backend/internal/handler"
)

// CronSecretHeader carries the shared secret of the external scheduler.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret admits only requests presenting the shared cron secret.
func CronSecret(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(CronSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid cron secret"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
