package chat

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerClient guards a Service with a circuit breaker so a failing chat service
// is not hammered by every lifecycle transition.
type BreakerClient struct {
	next Service
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerClient wraps next. onStateChange may be nil.
func NewBreakerClient(next Service, onStateChange func(name string, from, to gobreaker.State)) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "chat",
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
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: onStateChange,
	}
	return &BreakerClient{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// IsOpen reports whether calls are currently being rejected.
func (b *BreakerClient) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func (b *BreakerClient) run(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, fn() })
	return err
}

func (b *BreakerClient) EnsureUser(ctx context.Context, userID, name string) error {
	return b.run(func() error { return b.next.EnsureUser(ctx, userID, name) })
}

func (b *BreakerClient) CreateOrGetChannel(ctx context.Context, channelID, creatorID, name string) (string, error) {
	var id string
	err := b.run(func() error {
		var err error
		id, err = b.next.CreateOrGetChannel(ctx, channelID, creatorID, name)
		return err
	})
	return id, err
}

func (b *BreakerClient) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	var members []string
	err := b.run(func() error {
		var err error
		members, err = b.next.ListMembers(ctx, channelID)
		return err
	})
	return members, err
}

func (b *BreakerClient) AddMembers(ctx context.Context, channelID string, userIDs []string) error {
	return b.run(func() error { return b.next.AddMembers(ctx, channelID, userIDs) })
}

func (b *BreakerClient) RemoveMembers(ctx context.Context, channelID string, userIDs []string) error {
	return b.run(func() error { return b.next.RemoveMembers(ctx, channelID, userIDs) })
}

func (b *BreakerClient) SendSystemMessage(ctx context.Context, channelID, text string) error {
	return b.run(func() error { return b.next.SendSystemMessage(ctx, channelID, text) })
}

func (b *BreakerClient) Ping(ctx context.Context) error {
	return b.run(func() error { return b.next.Ping(ctx) })
}

// IsPermanent reports whether err will not go away on retry.
func IsPermanent(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Temporary()
}
