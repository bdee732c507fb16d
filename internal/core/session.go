package core

import (
	"time"

	"github.com/blockterm/blockterm/internal/shared/id"
)

// Session is the aggregate root binding a working directory, an inherited
// environment, and an ordered block sequence. Insertion order is execution
// order.
type Session struct {
	ID               id.SessionID      `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Name             string            `json:"name"`
	Blocks           []*Block          `json:"blocks"`
	Environment      map[string]string `json:"environment"`
	WorkingDirectory string            `json:"working_directory"`
}

// NewSession creates a named session rooted at the given working directory.
func NewSession(name, workingDirectory string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:               id.NewSessionID(),
		CreatedAt:        now,
		UpdatedAt:        now,
		Name:             name,
		Environment:      make(map[string]string),
		WorkingDirectory: workingDirectory,
	}
}

// AddBlock appends a block and bumps UpdatedAt. UpdatedAt never moves
// backwards.
func (s *Session) AddBlock(block *Block) {
	s.Blocks = append(s.Blocks, block)
	s.Touch()
}

// Touch bumps UpdatedAt monotonically.
func (s *Session) Touch() {
	now := time.Now().UTC()
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}
