package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Options are shared by the HTTP-backed adapters.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// OnStateChange observes circuit breaker transitions.
	OnStateChange func(name string, from, to gobreaker.State)
}

// APIError is a non-2xx response from a gateway API.
type APIError struct {
	Gateway    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Gateway, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type apiClient struct {
	name      string
	baseURL   string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
	authorize func(*http.Request)
}

func newAPIClient(name string, opts Options, authorize func(*http.Request)) *apiClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	settings := gobreaker.Settings{
		Name:        "gateway-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: opts.OnStateChange,
	}
	return &apiClient{
		name:      name,
		baseURL:   opts.BaseURL,
		http:      hc,
		breaker:   gobreaker.NewCircuitBreaker[[]byte](settings),
		authorize: authorize,
	}
}

// do sends one request through the breaker and returns the response body.
func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to build request: %w", c.name, err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		if c.authorize != nil {
			c.authorize(req)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read response: %w", c.name, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Gateway: c.name, StatusCode: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	})
}
