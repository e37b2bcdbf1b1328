package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/events"
	"github.com/serona-ai/serona/internal/metrics"
	"github.com/serona-ai/serona/internal/quota"
)

// historyWindow bounds how much of the conversation is replayed to the model
// per completion.
const historyWindow = 40

// Admitter decides whether a completion may proceed and accounts the token
// amounts against the caller's entitlement in the same step.
type Admitter interface {
	Check(ctx context.Context, userID uuid.UUID, inputTokens, outputTokens int) quota.Decision
}

// QuotaDeniedError is returned by SendMessage when the admission gate denies
// the request. It carries the full decision so the handler can shape the
// limit response.
type QuotaDeniedError struct {
	Decision quota.Decision
}

func (e *QuotaDeniedError) Error() string {
	return fmt.Sprintf("quota denied: %s", e.Decision.Reason)
}

// Service runs the gated completion flow: estimate, admit, persist, complete.
type Service struct {
	repo      Repository
	admitter  Admitter
	completer Completer
	publisher *events.Publisher
	cfg       config.LLMConfig
}

// NewService creates a chat Service. publisher may be nil.
func NewService(repo Repository, admitter Admitter, completer Completer, publisher *events.Publisher, cfg config.LLMConfig) *Service {
	return &Service{
		repo:      repo,
		admitter:  admitter,
		completer: completer,
		publisher: publisher,
		cfg:       cfg,
	}
}

// CreateChat opens a new chat for the user.
func (s *Service) CreateChat(ctx context.Context, userID uuid.UUID, title string) (*Chat, error) {
	chat := &Chat{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	return chat, nil
}

// GetChat returns the chat with the given ID, or nil when it does not exist.
func (s *Service) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	return s.repo.GetChat(ctx, id)
}

// ListChats returns the user's chats, newest first.
func (s *Service) ListChats(ctx context.Context, userID uuid.UUID, params ListParams) ([]Chat, int64, error) {
	return s.repo.ListChatsByUser(ctx, userID, params)
}

// DeleteChat removes a chat and its messages.
func (s *Service) DeleteChat(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.DeleteChat(ctx, id, userID)
}

// ListMessages returns the chat's messages in chronological order.
func (s *Service) ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]Message, error) {
	return s.repo.ListMessages(ctx, chatID, limit)
}

// SendMessage appends the user's message and generates an assistant reply.
// The admission check runs before anything is persisted: a denied request
// leaves no trace in the message log and consumes no entitlement.
//
// Token amounts are estimated before the completion because the gate must
// decide without knowing the true output size. The estimate is what is
// debited; the model is capped to the same output budget via max_tokens.
func (s *Service) SendMessage(ctx context.Context, chat *Chat, userID uuid.UUID, content string) (*Exchange, error) {
	history, err := s.repo.ListMessages(ctx, chat.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	inputTokens := estimateTokens(content)
	for _, m := range history {
		inputTokens += estimateTokens(m.Content)
	}
	outputTokens := s.cfg.MaxOutputTokens

	decision := s.admitter.Check(ctx, userID, inputTokens, outputTokens)
	if !decision.Allowed {
		if err := s.publisher.PublishQuotaDenied(ctx, userID, string(decision.Reason)); err != nil {
			slog.Warn("chat: publishing quota denial", "error", err)
		}
		return nil, &QuotaDeniedError{Decision: decision}
	}

	now := time.Now().UTC()
	userMsg := &Message{
		ID:        uuid.New(),
		ChatID:    chat.ID,
		UserID:    userID,
		Content:   content,
		Sender:    SenderUser,
		CreatedAt: now,
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	reply, err := s.completer.Complete(ctx, append(history, *userMsg), outputTokens)
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generating reply: %w", err)
	}
	metrics.CompletionsTotal.WithLabelValues("ok").Inc()

	aiMsg := &Message{
		ID:        uuid.New(),
		ChatID:    chat.ID,
		UserID:    userID,
		Content:   reply,
		Sender:    SenderAI,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertMessage(ctx, aiMsg); err != nil {
		// The reply was generated and the quota debited; surface the reply
		// anyway and log the persistence failure.
		slog.Error("chat: persisting assistant message", "error", err, "chat_id", chat.ID)
	}

	return &Exchange{
		UserMessage: userMsg,
		Reply:       aiMsg,
		Warning:     decision.Warning,
	}, nil
}

// estimateTokens approximates the token count of a text as len/4, rounded up.
// Coarse, but it only feeds the admission estimate, and the model itself is
// bounded by max_tokens.
func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
