package rest

import "fmt"

// Backend message codes.
const (
	MsgOK           = "ok"
	MsgError        = "error"
	MsgFree         = "free"
	MsgTaken        = "taken"
	MsgTakenByYou   = "taken-by-you"
	MsgAuthorized   = "authorized"
	MsgUnauthorized = "unauthorized"
)

// APIError means the backend was reached and refused the request. Code is
// the envelope message code when present.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend rejected request: %s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("backend rejected request: %s", e.Code)
}

// TransportError means no usable response reached the client.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
