package rest

import (
	"context"
	"net/http"

	"github.com/Kronh4rd/kolibri/pkg/domain"
)

// MessageDTO is the wire form of a chat message on both the REST send path
// and the broker delivery path.
type MessageDTO struct {
	MID       string             `json:"mid"`
	From      string             `json:"from"`
	To        string             `json:"to"`
	Type      domain.MessageType `json:"type"`
	Timestamp string             `json:"timestamp"`
	Content   string             `json:"content"`
}

// SendMessage submits an outgoing message and returns the server-assigned
// mid. The DTO's MID field carries the local placeholder; the backend
// replaces it and echoes the final id back for the acknowledgment.
func (c *Client) SendMessage(ctx context.Context, token string, msg MessageDTO) (string, error) {
	env, err := call[string](ctx, c, http.MethodPost, "/api/v1/messages/send", token, msg)
	if err != nil {
		return "", err
	}
	if env.Message != MsgOK {
		return "", &APIError{Code: env.Message}
	}
	return env.Content, nil
}
