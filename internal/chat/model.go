package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Chat matches the chats table schema.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message matches the chat_messages table schema. Messages are append-only:
// they are never mutated after creation.
type Message struct {
	ID        uuid.UUID `json:"id"`
	ChatID    uuid.UUID `json:"chat_id"`
	UserID    uuid.UUID `json:"user_id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateChatRequest is used by the API to open a new chat.
type CreateChatRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// SendMessageRequest is used by the API to append a user message and request
// a completion.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required,min=1"`
}

// Exchange is the result of a gated completion round trip.
type Exchange struct {
	UserMessage *Message `json:"user_message"`
	Reply       *Message `json:"reply"`
	Warning     string   `json:"warning,omitempty"`
}

// ListParams holds pagination parameters.
type ListParams struct {
	Page     int
	PageSize int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
