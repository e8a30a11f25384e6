// Package simple contains the permissive politeness policy used when rate
// limiting is disabled.
package simple

import "context"

// Policy grants every acquisition immediately.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Acquire always succeeds without waiting.
func (Policy) Acquire(_ context.Context, _ string) error {
	return nil
}
