// Package auth provides credential checks for the development broker.
//
// It holds no policy: lockout and retry belong to the greeter runner.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Authenticator checks one username/password pair.
type Authenticator interface {
	Authenticate(username, password string) error
}

// StaticPasswords maps usernames to plaintext passwords.
// It is intended only for the stub broker and tests.
type StaticPasswords map[string]string

func (s StaticPasswords) Authenticate(username, password string) error {
	stored, ok := s[username]
	if !ok || stored == "" {
		// Compare anyway so unknown users cost the same as wrong passwords.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// AuthFunc adapts a function into an Authenticator.
type AuthFunc func(username, password string) error

func (f AuthFunc) Authenticate(username, password string) error {
	return f(username, password)
}
