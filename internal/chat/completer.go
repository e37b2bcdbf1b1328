package chat

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/serona-ai/serona/internal/config"
)

// Completer generates an assistant reply from the chat history. The history
// is assembled per request from the persisted message log; there is no
// process-wide conversation cache.
type Completer interface {
	Complete(ctx context.Context, history []Message, maxOutputTokens int) (string, error)
}

type openAICompleter struct {
	client *openai.Client
	model  string
}

// NewCompleter creates a Completer backed by an OpenAI-compatible endpoint.
func NewCompleter(cfg config.LLMConfig) Completer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &openAICompleter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (c *openAICompleter) Complete(ctx context.Context, history []Message, maxOutputTokens int) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Sender == SenderAI {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// MockCompleter is a function-field test double for the Completer interface.
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, history []Message, maxOutputTokens int) (string, error)
}

func (m *MockCompleter) Complete(ctx context.Context, history []Message, maxOutputTokens int) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, history, maxOutputTokens)
	}
	return "", nil
}
