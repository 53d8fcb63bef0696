package session

import "errors"

var (
	// ErrOffline is the generic connectivity failure surfaced for any
	// transport-level error. No flow mutates local state before turning
	// into this.
	ErrOffline = errors.New("backend unreachable")

	ErrNoSession    = errors.New("no active session")
	ErrUnauthorized = errors.New("wrong email address or password")

	ErrUsernameInvalid  = errors.New("username must have at least 3 characters")
	ErrUsernameTaken    = errors.New("username is already taken")
	ErrEmailInvalid     = errors.New("email address is invalid")
	ErrEmailTaken       = errors.New("email address is already taken")
	ErrPasswordInvalid  = errors.New("password must have at least 8 characters including a digit")
	ErrPasswordMismatch = errors.New("passwords do not match")
)
