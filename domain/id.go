package domain

import "github.com/google/uuid"

// NewID mints an entity identifier.
func NewID() string {
	return uuid.NewString()
}
