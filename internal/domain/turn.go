package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSystem, RoleAssistant:
		return true
	}
	return false
}

// Turn is a single recorded utterance or generated message. Seq is assigned by
// Memory on append and is the turn's position in the conversation.
type Turn struct {
	ID        string    `json:"id" toml:"id"`
	Seq       int       `json:"seq" toml:"seq"`
	Role      Role      `json:"role" toml:"role"`
	Content   string    `json:"content" toml:"content"`
	CreatedAt time.Time `json:"createdAt" toml:"created_at"`
}

// NewTurn builds an unsequenced turn with a fresh ID.
func NewTurn(role Role, content string, now time.Time) Turn {
	return Turn{
		ID:        newTurnID(),
		Role:      role,
		Content:   content,
		CreatedAt: now.UTC(),
	}
}

var newTurnID = func() string {
	return uuid.NewString()
}
