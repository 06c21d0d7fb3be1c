// Package uuidv7 mints time-ordered identifiers for request scopes.
package uuidv7

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh UUIDv7. It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString is New formatted in canonical form.
func NewString() string {
	return New().String()
}

// Timestamp returns the creation time embedded in a UUIDv7 string.
func Timestamp(s string) (time.Time, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("uuidv7: parse: %w", err)
	}
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("uuidv7: version %d", id.Version())
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
