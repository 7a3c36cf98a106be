package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, 5)
	rl.now = func() time.Time { return now }

	rl.bucket("10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.bucket("10.0.0.2")
	now = now.Add(2 * time.Minute)

	if n := rl.Evict(); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if rl.Clients() != 1 {
		t.Fatalf("clients = %d", rl.Clients())
	}
}

func TestRateLimiter_ServeStopsOnCancel(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRateLimiter_RetryAfterReflectsRefill(t *testing.T) {
	// One token every 4s.
	h := NewRateLimiter(0.25, 1).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 172.16.0.1")

	h.ServeHTTP(httptest.NewRecorder(), req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "4" && got != "3" {
		t.Errorf("Retry-After = %q", got)
	}
}
