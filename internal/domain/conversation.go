package domain

import (
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of a dialogue history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationSession holds dialogue state for a user.
type ConversationSession struct {
	ID        string
	UserID    string
	History   []Turn
	Context   map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecentTurns returns the last n turns of history.
func (s *ConversationSession) RecentTurns(n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
