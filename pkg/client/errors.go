package client

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

// Assignment failures as seen by a client. HTTPError unwraps to one of
// these when the server reports a known code.
var (
	ErrInvalidSlot     = errors.New("invalid slot")
	ErrAlreadyAssigned = errors.New("slot already assigned")
	ErrInvalidSecret   = errors.New("invalid secret")

	// ErrTimeout is client-local: the server did not answer within the
	// pending-operation bound.
	ErrTimeout = errors.New("timed out waiting for server")
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Code       types.ErrorCode
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	switch e.Code {
	case types.CodeInvalidSlot:
		return ErrInvalidSlot
	case types.CodeAlreadyAssigned:
		return ErrAlreadyAssigned
	case types.CodeInvalidSecret:
		return ErrInvalidSecret
	}
	return nil
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// UserMessage turns an assignment error into something fit for a player.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyAssigned):
		return "slot already taken"
	case errors.Is(err, ErrInvalidSecret):
		return "could not verify your identity"
	case errors.Is(err, ErrInvalidSlot):
		return "that player slot is not available"
	case errors.Is(err, ErrTimeout):
		return "the server did not respond in time"
	default:
		return "something went wrong, please try again"
	}
}
