// Package uuid wraps the google/uuid package so the rest of the codebase
// has a single import point for identifier generation.
package uuid

import "github.com/google/uuid"

// UUID is a 128-bit universally unique identifier.
type UUID = uuid.UUID

// New returns a random (version 4) UUID.
func New() UUID { return uuid.New() }

// NewString returns a random UUID rendered as its canonical string form.
func NewString() string { return uuid.NewString() }

// Parse decodes s into a UUID, accepting the canonical forms handled by
// google/uuid.
func Parse(s string) (UUID, error) { return uuid.Parse(s) }
