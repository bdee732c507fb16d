// Package id provides centralized ID generation for the backend.
//
// Blocks and sessions carry UUIDv4 identity. IDs are generated once at
// creation and never change; the typed wrappers keep a block ID from being
// handed to a session lookup and vice versa.
package id

import (
	"github.com/google/uuid"
)

// BlockID identifies a single command block.
type BlockID string

// SessionID identifies a session (an ordered block sequence).
type SessionID string

// NewBlockID generates a fresh block identifier.
func NewBlockID() BlockID {
	return BlockID(uuid.NewString())
}

// NewSessionID generates a fresh session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ParseBlockID validates s as a block identifier.
func ParseBlockID(s string) (BlockID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return BlockID(u.String()), nil
}

// ParseSessionID validates s as a session identifier.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return SessionID(u.String()), nil
}

func (b BlockID) String() string   { return string(b) }
func (s SessionID) String() string { return string(s) }
