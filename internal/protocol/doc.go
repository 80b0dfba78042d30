// Package protocol owns the greetd IPC wire contract.
//
// Ownership boundary:
// - request/response message schema and its JSON encoding
// - message codec over frame primitives
// - error classes shared by every caller of the codec
package protocol
