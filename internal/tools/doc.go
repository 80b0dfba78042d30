// Package tools provides host helpers for the development broker.
//
// Ownership boundary:
// - session command execution
package tools
