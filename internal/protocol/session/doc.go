// Package session drives the greeter side of a greetd authentication.
//
// Ownership boundary:
// - the authentication state machine and its caller-facing actions
// - the connection to the broker, exclusively
// - failed-attempt accounting exposed to the caller's policy layer
//
// A Session is not safe for concurrent use. Every Advance performs at most
// one request/response round trip; the driver never retries and never logs.
package session
