package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the Kolibri backend. Every operation reports one of three
// outcomes: success (nil error), remote rejection (*APIError) or transport
// failure (*TransportError). Callers discriminate with errors.As; the
// outcomes are never collapsed.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Container is the response envelope every backend endpoint uses. Callers
// branch on Message, not on HTTP status alone.
type Container[T any] struct {
	Message string `json:"message"`
	Content T      `json:"content,omitempty"`
}

func call[T any](ctx context.Context, c *Client, method, path, token string, payload any) (Container[T], error) {
	var env Container[T]

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return env, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return env, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errEnv Container[json.RawMessage]
		_ = json.NewDecoder(resp.Body).Decode(&errEnv)
		code := errEnv.Message
		if code == "" {
			code = MsgError
		}
		return env, &APIError{Status: resp.StatusCode, Code: code}
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// A 2xx with an unreadable body means the backend never delivered a
		// usable response; treat it like connectivity loss.
		return env, &TransportError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return env, nil
}
