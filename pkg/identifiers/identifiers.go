// Package identifiers generates the 128-bit unique IDs every stored entity
// (conversations, messages, tasks, audit entries, lessons...) keys on,
// matching the teacher's use of github.com/google/uuid for session/entity
// IDs throughout internal/store.
package identifiers

import "github.com/google/uuid"

// New returns a fresh random (v4) identifier as a string.
func New() string {
	return uuid.New().String()
}

// NewShort returns the first 8 hex characters of a fresh identifier, used
// where a human-facing handle is wanted (cron-style job names, log lines)
// and full collision resistance is not required.
func NewShort() string {
	return New()[:8]
}
