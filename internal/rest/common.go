package rest

import (
	"context"
	"net/http"
)

// Healthcheck verifies the backend answers with an ok envelope.
func (c *Client) Healthcheck(ctx context.Context) error {
	env, err := call[struct{}](ctx, c, http.MethodGet, "/api/v1/common/healthcheck", "", nil)
	if err != nil {
		return err
	}
	if env.Message != MsgOK {
		return &APIError{Code: env.Message}
	}
	return nil
}

// Version returns the backend's version string, e.g. "2.4.1".
func (c *Client) Version(ctx context.Context) (string, error) {
	env, err := call[string](ctx, c, http.MethodGet, "/api/v1/common/version", "", nil)
	if err != nil {
		return "", err
	}
	if env.Message != MsgOK {
		return "", &APIError{Code: env.Message}
	}
	return env.Content, nil
}

// BrokerPort asks the backend for the port of its message broker.
func (c *Client) BrokerPort(ctx context.Context) (int, error) {
	env, err := call[int](ctx, c, http.MethodGet, "/api/v1/config/broker-port", "", nil)
	if err != nil {
		return 0, err
	}
	if env.Message != MsgOK {
		return 0, &APIError{Code: env.Message}
	}
	return env.Content, nil
}
