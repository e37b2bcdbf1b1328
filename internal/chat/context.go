package chat

import "context"

type contextKey string

const chatContextKey contextKey = "chat"

// SetChatInContext stores the ownership-checked chat for downstream handlers.
func SetChatInContext(ctx context.Context, chat *Chat) context.Context {
	return context.WithValue(ctx, chatContextKey, chat)
}

// GetChatFromContext returns the chat placed by the ownership middleware, or
// nil when the request did not pass through it.
func GetChatFromContext(ctx context.Context) *Chat {
	chat, _ := ctx.Value(chatContextKey).(*Chat)
	return chat
}
