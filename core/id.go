package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for domain entities.
//
// Returns a string representation of a new UUID. Used for turns, messages,
// usage events and wallet debits so ids are stable before the commit.
func NewID() string { return uuid.NewString() }
