// Package chat is the client for the community chat service that hosts creators'
// tier-gated channels.
package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// Service is the set of chat capabilities membership sync depends on.
type Service interface {
	EnsureUser(ctx context.Context, userID, name string) error
	CreateOrGetChannel(ctx context.Context, channelID, creatorID, name string) (string, error)
	ListMembers(ctx context.Context, channelID string) ([]string, error)
	AddMembers(ctx context.Context, channelID string, userIDs []string) error
	RemoveMembers(ctx context.Context, channelID string, userIDs []string) error
	SendSystemMessage(ctx context.Context, channelID, text string) error
	Ping(ctx context.Context) error
}

// APIError is a non-2xx response from the chat service.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether retrying may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Client calls the chat service REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a chat API client.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, http: hc}
}

func (c *Client) call(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("chat %s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("chat %s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("chat %s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("chat %s: failed to decode response: %w", op, err)
		}
	}
	return nil
}

// EnsureUser creates the chat user if missing and refreshes its display name.
func (c *Client) EnsureUser(ctx context.Context, userID, name string) error {
	return c.call(ctx, "ensure_user", http.MethodPut, "/v1/users/"+url.PathEscape(userID), map[string]string{"name": name}, nil)
}

// CreateOrGetChannel makes sure the channel exists and returns its chat-side ID.
func (c *Client) CreateOrGetChannel(ctx context.Context, channelID, creatorID, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	in := map[string]string{"name": name, "owner_id": creatorID}
	if err := c.call(ctx, "create_channel", http.MethodPut, "/v1/channels/"+url.PathEscape(channelID), in, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		out.ID = channelID
	}
	return out.ID, nil
}

// ListMembers returns the user IDs in a channel.
func (c *Client) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	var out struct {
		Members []string `json:"members"`
	}
	if err := c.call(ctx, "list_members", http.MethodGet, "/v1/channels/"+url.PathEscape(channelID)+"/members", nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// AddMembers adds users to a channel. Adding an existing member is not an error.
func (c *Client) AddMembers(ctx context.Context, channelID string, userIDs []string) error {
	return c.call(ctx, "add_members", http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/members",
		map[string][]string{"user_ids": userIDs}, nil)
}

// RemoveMembers removes users from a channel. Removing a non-member is not an error.
func (c *Client) RemoveMembers(ctx context.Context, channelID string, userIDs []string) error {
	return c.call(ctx, "remove_members", http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/members/remove",
		map[string][]string{"user_ids": userIDs}, nil)
}

// SendSystemMessage posts a system message to a channel.
func (c *Client) SendSystemMessage(ctx context.Context, channelID, text string) error {
	return c.call(ctx, "system_message", http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/messages",
		map[string]string{"type": "system", "text": text}, nil)
}

// Ping checks that the chat service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", http.MethodGet, "/v1/health", nil, nil)
}
