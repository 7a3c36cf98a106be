package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/supportly/backend/internal/contextkeys"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/middleware"
	"github.com/supportly/backend/internal/repository/memory"
	"github.com/supportly/backend/internal/service"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	auth := service.NewAuthService("secret", memory.NewUserStore())
	token, err := auth.IssueToken(domain.JWTClaims{Sub: "sup-1", Email: "sup@example.com", Role: "user"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	other := service.NewAuthService("other-secret", memory.NewUserStore())
	forged, _ := other.IssueToken(domain.JWTClaims{Sub: "sup-1", Role: "admin"}, time.Hour)

	var seen *domain.JWTClaims
	h := middleware.Auth(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(contextkeys.Claims).(*domain.JWTClaims)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"wrong key", "Bearer " + forged, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if rec := serve(h, req); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seen == nil || seen.Sub != "sup-1" {
		t.Fatalf("claims not propagated: %+v", seen)
	}
}

func TestAdminOnly(t *testing.T) {
	h := middleware.AdminOnly(ok)
	withRole := func(role string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		claims := &domain.JWTClaims{Sub: "u", Role: role}
		return req.WithContext(contextWith(req, claims))
	}
	if rec := serve(h, withRole("user")); rec.Code != http.StatusForbidden {
		t.Fatalf("user: status = %d", rec.Code)
	}
	if rec := serve(h, withRole("admin")); rec.Code != http.StatusNoContent {
		t.Fatalf("admin: status = %d", rec.Code)
	}
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil)); rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous: status = %d", rec.Code)
	}
}

func TestCronSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"match", "s3cret", "s3cret", http.StatusNoContent},
		{"mismatch", "s3cret", "guess", http.StatusUnauthorized},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(middleware.CronSecretHeader, tt.header)
			}
			if rec := serve(middleware.CronSecret(tt.secret)(ok), req); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := middleware.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil)); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	h := middleware.NewRateLimiter(0.001, 2).Middleware()(ok)
	req := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Real-IP", ip)
		return r
	}
	for i := 0; i < 2; i++ {
		if rec := serve(h, req("10.0.0.1")); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := serve(h, req("10.0.0.1"))
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("over burst: status = %d", rec.Code)
	}
	if rec := serve(h, req("10.0.0.2")); rec.Code != http.StatusNoContent {
		t.Fatalf("other client: status = %d", rec.Code)
	}
}

func TestLoggerAndMetricsPassThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.Logger, middleware.Metrics)
	r.Get("/api/creators/{creatorID}/tiers", ok)
	if rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/creators/cre-1/tiers", nil)); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func contextWith(r *http.Request, claims *domain.JWTClaims) context.Context {
	return context.WithValue(r.Context(), contextkeys.Claims, claims)
}
