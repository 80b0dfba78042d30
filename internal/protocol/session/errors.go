package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/greeter/internal/protocol"
)

var (
	// ErrMissingData is the only recoverable error; repeat Advance with data.
	ErrMissingData          = errors.New("session: response data required")
	ErrAuthenticationFailed = errors.New("session: authentication failed")
	ErrSessionTerminated    = errors.New("session: terminated")
	ErrSessionBroken        = errors.New("session: broken by fatal error")
	ErrSessionClosed        = errors.New("session: closed")
)

// AuthFailedError carries the broker's error reply. It matches ErrAuthenticationFailed.
type AuthFailedError struct {
	ErrorType protocol.ErrorType
	Message   string
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("session: authentication failed (%s): %s", e.ErrorType, e.Message)
}

func (e *AuthFailedError) Unwrap() error {
	return ErrAuthenticationFailed
}

// IsFatal reports whether the session must be discarded without retrying on it.
func IsFatal(err error) bool {
	return protocol.IsFatal(err) || errors.Is(err, ErrSessionBroken)
}
