package conversation

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or
// belongs to a different user.
var ErrNotFound = errors.New("not found")

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a titled thread of messages owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single exchange entry within a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Metadata       string    `json:"metadata"` // JSON object stored as text
	CreatedAt      time.Time `json:"created_at"`
}
