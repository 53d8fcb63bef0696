package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Kronh4rd/kolibri/pkg/domain"
)

// CheckUsername reports MsgFree or MsgTaken for a candidate username.
func (c *Client) CheckUsername(ctx context.Context, username string) (string, error) {
	path := "/api/v1/users/check/username/" + url.PathEscape(username)
	env, err := call[struct{}](ctx, c, http.MethodGet, path, "", nil)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// CheckEmail reports MsgFree, MsgTaken or MsgTakenByYou for a candidate
// email. Token may be empty during registration; it is required for the
// backend to recognize "taken by you".
func (c *Client) CheckEmail(ctx context.Context, token, email string) (string, error) {
	path := "/api/v1/users/check/email/" + url.PathEscape(email)
	env, err := call[struct{}](ctx, c, http.MethodGet, path, token, nil)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// Register creates a new account. The user's Password field must already
// hold the hex digest, never a plaintext. publicKey is the device's freshly
// generated public half, distributed to future counterparts by the backend.
func (c *Client) Register(ctx context.Context, user domain.User, publicKey string) error {
	payload := registrationDTO{
		Username:  user.Username,
		Email:     user.Email,
		Password:  user.Password,
		PublicKey: publicKey,
	}
	env, err := call[struct{}](ctx, c, http.MethodPost, "/api/v1/users/register", "", payload)
	if err != nil {
		return err
	}
	if env.Message != MsgOK {
		return &APIError{Code: env.Message}
	}
	return nil
}

// Login exchanges email + password digest for an access token. Any envelope
// other than MsgAuthorized surfaces as an *APIError.
func (c *Client) Login(ctx context.Context, email, passwordHash string) (string, error) {
	payload := credentialsDTO{Email: email, Password: passwordHash}
	env, err := call[string](ctx, c, http.MethodPost, "/api/v1/auth/login", "", payload)
	if err != nil {
		return "", err
	}
	if env.Message != MsgAuthorized {
		return "", &APIError{Code: env.Message}
	}
	return env.Content, nil
}

// GetUserByToken fetches the account that owns the access token.
func (c *Client) GetUserByToken(ctx context.Context, token string) (domain.User, error) {
	env, err := call[userDTO](ctx, c, http.MethodGet, "/api/v1/users/get", token, nil)
	if err != nil {
		return domain.User{}, err
	}
	if env.Message != MsgOK {
		return domain.User{}, &APIError{Code: env.Message}
	}
	return env.Content.toDomain(), nil
}

// GetUser fetches another user's public-facing fields by uid.
func (c *Client) GetUser(ctx context.Context, token, uid string) (domain.User, error) {
	path := "/api/v1/users/get/" + url.PathEscape(uid)
	env, err := call[userDTO](ctx, c, http.MethodGet, path, token, nil)
	if err != nil {
		return domain.User{}, err
	}
	if env.Message != MsgOK {
		return domain.User{}, &APIError{Code: env.Message}
	}
	return env.Content.toDomain(), nil
}

// GetUserByEmail fetches an account by email. Used right after registration,
// before the device holds a token.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	path := "/api/v1/users/email/" + url.PathEscape(email)
	env, err := call[userDTO](ctx, c, http.MethodGet, path, "", nil)
	if err != nil {
		return domain.User{}, err
	}
	if env.Message != MsgOK {
		return domain.User{}, &APIError{Code: env.Message}
	}
	return env.Content.toDomain(), nil
}

// UpdateUser submits changed profile fields. When the email changed the
// backend re-issues the identity and the returned token is non-empty; the
// old token is dead from that point.
func (c *Client) UpdateUser(ctx context.Context, token string, user domain.User) (string, error) {
	payload := userDTO{
		UID:          user.UID,
		Username:     user.Username,
		Email:        user.Email,
		Password:     user.Password,
		ProfilePicTn: user.ProfilePicTn,
	}
	env, err := call[string](ctx, c, http.MethodPut, "/api/v1/users/update", token, payload)
	if err != nil {
		return "", err
	}
	if env.Message != MsgOK {
		return "", &APIError{Code: env.Message}
	}
	return env.Content, nil
}

// DeleteUser removes the account that owns the token.
func (c *Client) DeleteUser(ctx context.Context, token string) error {
	env, err := call[struct{}](ctx, c, http.MethodDelete, "/api/v1/users/delete", token, nil)
	if err != nil {
		return err
	}
	if env.Message != MsgOK {
		return &APIError{Code: env.Message}
	}
	return nil
}

// UpdatePublicKey publishes the device's public key so counterparts can
// encrypt for it.
func (c *Client) UpdatePublicKey(ctx context.Context, token, publicKey string) error {
	payload := map[string]string{"publicKey": publicKey}
	env, err := call[struct{}](ctx, c, http.MethodPut, "/api/v1/users/public-key", token, payload)
	if err != nil {
		return err
	}
	if env.Message != MsgOK {
		return &APIError{Code: env.Message}
	}
	return nil
}

// GetPublicKey fetches the current public key of another user.
func (c *Client) GetPublicKey(ctx context.Context, token, uid string) (string, error) {
	path := "/api/v1/users/public-key/" + url.PathEscape(uid)
	env, err := call[string](ctx, c, http.MethodGet, path, token, nil)
	if err != nil {
		return "", err
	}
	if env.Message != MsgOK {
		return "", &APIError{Code: env.Message}
	}
	return env.Content, nil
}

type credentialsDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registrationDTO struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey,omitempty"`
}

type userDTO struct {
	UID          string `json:"uid"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password,omitempty"`
	ProfilePicTn string `json:"profilePicTn,omitempty"`
}

func (d userDTO) toDomain() domain.User {
	return domain.User{
		UID:          d.UID,
		Username:     d.Username,
		Email:        d.Email,
		ProfilePicTn: d.ProfilePicTn,
	}
}
