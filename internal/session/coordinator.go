// Package session orchestrates the multi-step account flows: registration,
// login, profile updates, password change, account deletion. Each flow is a
// fixed sequence of REST calls ending in at most one store commit; any
// failure leaves local state exactly as it was.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Kronh4rd/kolibri/internal/rest"
	"github.com/Kronh4rd/kolibri/internal/store"
	"github.com/Kronh4rd/kolibri/pkg/crypto"
	"github.com/Kronh4rd/kolibri/pkg/domain"
)

// Coordinator drives the session lifecycle against the backend and commits
// results into the local store.
type Coordinator struct {
	client *rest.Client
	store  store.Store

	mu             sync.Mutex
	stagedPassword string // hex digest staged by StagePassword, consumed by SaveProfile
}

// NewCoordinator wires a coordinator to the given backend client and store.
func NewCoordinator(client *rest.Client, st store.Store) *Coordinator {
	return &Coordinator{client: client, store: st}
}

// Register validates all fields, creates the account, re-fetches the full
// user record by email and commits it together with a fresh device keypair
// as the session user. The plaintext password exists only inside this call.
func (c *Coordinator) Register(ctx context.Context, username, email, password, passwordConfirm string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	if !validUsername(username) {
		return ErrUsernameInvalid
	}
	code, err := c.client.CheckUsername(ctx, username)
	if err != nil {
		return c.remoteErr(err)
	}
	if code != rest.MsgFree {
		return ErrUsernameTaken
	}

	if !validEmail(email) {
		return ErrEmailInvalid
	}
	code, err = c.client.CheckEmail(ctx, "", email)
	if err != nil {
		return c.remoteErr(err)
	}
	if code != rest.MsgFree {
		return ErrEmailTaken
	}

	if !validPassword(password) {
		return ErrPasswordInvalid
	}
	if password != passwordConfirm {
		return ErrPasswordMismatch
	}

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate device keypair: %w", err)
	}

	digest := crypto.Hash(password)
	if err := c.client.Register(ctx, domain.User{Username: username, Email: email, Password: digest}, pair.PublicKey); err != nil {
		return c.remoteErr(err)
	}

	user, err := c.client.GetUserByEmail(ctx, email)
	if err != nil {
		return c.remoteErr(err)
	}
	token, err := c.client.Login(ctx, email, digest)
	if err != nil {
		return c.remoteErr(err)
	}

	user.AccessToken = token
	user.PrivateKey = pair.PrivateKey
	if err := c.store.SaveUser(user); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	slog.Info("registration complete", "uid", user.UID)
	return nil
}

// Login authenticates with email and password. Only an authorized response
// commits a session; every other outcome leaves the store untouched.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return ErrUnauthorized
	}

	token, err := c.client.Login(ctx, email, crypto.Hash(password))
	if err != nil {
		return c.remoteErr(err)
	}
	user, err := c.client.GetUserByToken(ctx, token)
	if err != nil {
		return c.remoteErr(err)
	}
	user.AccessToken = token

	// A re-login on the same device keeps the existing keypair; a first
	// login on a fresh device generates one and publishes the public half.
	if prev, ok, _ := c.store.CurrentUser(); ok && prev.UID == user.UID && prev.PrivateKey != "" {
		user.PrivateKey = prev.PrivateKey
	} else {
		pair, err := crypto.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("generate device keypair: %w", err)
		}
		if err := c.client.UpdatePublicKey(ctx, token, pair.PublicKey); err != nil {
			return c.remoteErr(err)
		}
		user.PrivateKey = pair.PrivateKey
	}

	if err := c.store.SaveUser(user); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	slog.Info("login complete", "uid", user.UID)
	return nil
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Username     string
	Email        string
	ProfilePicTn string
}

// SaveProfile validates and submits a profile change. When the backend
// rotates the access token (email changed), the old token is discarded and
// the user is re-fetched under the new one. A password digest staged by
// StagePassword rides along and is cleared on success.
func (c *Coordinator) SaveProfile(ctx context.Context, update ProfileUpdate) error {
	cur, ok, err := c.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return ErrNoSession
	}

	email := strings.TrimSpace(strings.ToLower(update.Email))
	if !validEmail(email) {
		return ErrEmailInvalid
	}
	code, err := c.client.CheckEmail(ctx, cur.AccessToken, email)
	if err != nil {
		return c.remoteErr(err)
	}
	if code != rest.MsgFree && code != rest.MsgTakenByYou {
		return ErrEmailTaken
	}

	outgoing := domain.User{
		UID:          cur.UID,
		Username:     update.Username,
		Email:        email,
		ProfilePicTn: update.ProfilePicTn,
		Password:     c.takeStagedPassword(),
	}

	newToken, err := c.client.UpdateUser(ctx, cur.AccessToken, outgoing)
	if err != nil {
		c.restoreStagedPassword(outgoing.Password)
		return c.remoteErr(err)
	}
	token := cur.AccessToken
	if newToken != "" {
		token = newToken
	}

	fetched, err := c.client.GetUserByToken(ctx, token)
	if err != nil {
		return c.remoteErr(err)
	}

	// Staleness guard: if someone replaced the session while this flow was
	// in flight, the late result is dropped, never committed.
	latest, ok, err := c.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok || latest.AccessToken != cur.AccessToken {
		slog.Debug("dropping stale profile result", "uid", fetched.UID)
		return nil
	}

	fetched.AccessToken = token
	fetched.PrivateKey = latest.PrivateKey
	if err := c.store.SaveUser(fetched); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// StagePassword re-authenticates with the old password and stages the new
// one for the next SaveProfile. Only the digest is retained; both plaintexts
// are gone when this returns.
func (c *Coordinator) StagePassword(ctx context.Context, oldPassword, newPassword, confirm string) error {
	cur, ok, err := c.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return ErrNoSession
	}

	if _, err := c.client.Login(ctx, cur.Email, crypto.Hash(oldPassword)); err != nil {
		return c.remoteErr(err)
	}
	if !validPassword(newPassword) {
		return ErrPasswordInvalid
	}
	if newPassword != confirm {
		return ErrPasswordMismatch
	}

	c.mu.Lock()
	c.stagedPassword = crypto.Hash(newPassword)
	c.mu.Unlock()
	return nil
}

// RefreshUser re-fetches the session user under the current token and
// commits the result, unless the session was replaced in the meantime.
// A late result under a superseded token is silently dropped.
func (c *Coordinator) RefreshUser(ctx context.Context) error {
	cur, ok, err := c.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return ErrNoSession
	}
	startToken := cur.AccessToken

	fetched, err := c.client.GetUserByToken(ctx, startToken)
	if err != nil {
		return c.remoteErr(err)
	}

	latest, ok, err := c.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok || latest.AccessToken != startToken {
		slog.Debug("dropping stale refresh result", "uid", fetched.UID)
		return nil
	}

	fetched.AccessToken = startToken
	fetched.PrivateKey = latest.PrivateKey
	if err := c.store.SaveUser(fetched); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// RotateKeyPair replaces the device identity: new keypair, public half
// published, private half committed with the session. Existing chats keep
// working because counterpart contact records simply pick up the new key.
func (c *Coordinator) RotateKeyPair(ctx context.Context) error {
	cur, ok, err := c.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return ErrNoSession
	}

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate device keypair: %w", err)
	}
	if err := c.client.UpdatePublicKey(ctx, cur.AccessToken, pair.PublicKey); err != nil {
		return c.remoteErr(err)
	}

	cur.PrivateKey = pair.PrivateKey
	if err := c.store.SaveUser(cur); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// DeleteAccount removes the account on the backend and, only then, clears
// the local session. A failed call leaves the session intact.
func (c *Coordinator) DeleteAccount(ctx context.Context) error {
	cur, ok, err := c.store.CurrentUser()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return ErrNoSession
	}

	if err := c.client.DeleteUser(ctx, cur.AccessToken); err != nil {
		return c.remoteErr(err)
	}
	if err := c.store.DeleteUser(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	slog.Info("account deleted", "uid", cur.UID)
	return nil
}

// Logout clears the local session: token and private key are gone, the
// device returns to the unauthenticated state. Purely local.
func (c *Coordinator) Logout() error {
	return c.store.DeleteUser()
}

func (c *Coordinator) takeStagedPassword() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	digest := c.stagedPassword
	c.stagedPassword = ""
	return digest
}

func (c *Coordinator) restoreStagedPassword(digest string) {
	if digest == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stagedPassword = digest
}

// remoteErr maps REST layer failures onto the flow error taxonomy:
// transport failures become the generic ErrOffline, an unauthorized
// envelope becomes ErrUnauthorized, everything else passes through.
func (c *Coordinator) remoteErr(err error) error {
	var transport *rest.TransportError
	if errors.As(err, &transport) {
		return fmt.Errorf("%w: %v", ErrOffline, transport.Err)
	}
	var api *rest.APIError
	if errors.As(err, &api) && api.Code == rest.MsgUnauthorized {
		return ErrUnauthorized
	}
	return err
}
