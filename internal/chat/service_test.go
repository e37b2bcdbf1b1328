package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/quota"
)

type fakeRepository struct {
	messages []Message

	CreateChatFunc func(ctx context.Context, chat *Chat) error
	InsertErr      error
	ListErr        error
}

func (f *fakeRepository) CreateChat(ctx context.Context, chat *Chat) error {
	if f.CreateChatFunc != nil {
		return f.CreateChatFunc(ctx, chat)
	}
	return nil
}

func (f *fakeRepository) GetChat(context.Context, uuid.UUID) (*Chat, error) { return nil, nil }

func (f *fakeRepository) ListChatsByUser(context.Context, uuid.UUID, ListParams) ([]Chat, int64, error) {
	return nil, 0, nil
}

func (f *fakeRepository) DeleteChat(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (f *fakeRepository) InsertMessage(_ context.Context, msg *Message) error {
	if f.InsertErr != nil {
		return f.InsertErr
	}
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeRepository) ListMessages(context.Context, uuid.UUID, int) ([]Message, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.messages, nil
}

type fakeAdmitter struct {
	decision quota.Decision
	gotIn    int
	gotOut   int
	calls    int
}

func (f *fakeAdmitter) Check(_ context.Context, _ uuid.UUID, inputTokens, outputTokens int) quota.Decision {
	f.calls++
	f.gotIn = inputTokens
	f.gotOut = outputTokens
	return f.decision
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Model:           "gpt-4o-mini",
		MaxOutputTokens: 800,
		Timeout:         30 * time.Second,
	}
}

func TestSendMessage_AllowedRoundTrip(t *testing.T) {
	repo := &fakeRepository{}
	admitter := &fakeAdmitter{decision: quota.Decision{Allowed: true}}
	completer := &MockCompleter{CompleteFunc: func(_ context.Context, history []Message, maxTokens int) (string, error) {
		require.Len(t, history, 1)
		assert.Equal(t, SenderUser, history[0].Sender)
		assert.Equal(t, 800, maxTokens)
		return "hello back", nil
	}}

	svc := NewService(repo, admitter, completer, nil, testLLMConfig())
	chat := &Chat{ID: uuid.New(), UserID: uuid.New()}

	ex, err := svc.SendMessage(context.Background(), chat, chat.UserID, "hello there")

	require.NoError(t, err)
	assert.Equal(t, "hello there", ex.UserMessage.Content)
	assert.Equal(t, SenderUser, ex.UserMessage.Sender)
	assert.Equal(t, "hello back", ex.Reply.Content)
	assert.Equal(t, SenderAI, ex.Reply.Sender)
	assert.Len(t, repo.messages, 2)

	// The admission request covers the estimated input and the full output
	// budget the model is capped to.
	assert.Equal(t, 1, admitter.calls)
	assert.Equal(t, 800, admitter.gotOut)
	assert.Positive(t, admitter.gotIn)
}

func TestSendMessage_DeniedLeavesNoTrace(t *testing.T) {
	repo := &fakeRepository{}
	admitter := &fakeAdmitter{decision: quota.Decision{
		Allowed: false,
		Reason:  quota.ReasonDailyResponseLimitExceeded,
	}}
	completer := &MockCompleter{CompleteFunc: func(context.Context, []Message, int) (string, error) {
		t.Fatal("completer must not run on a denied request")
		return "", nil
	}}

	svc := NewService(repo, admitter, completer, nil, testLLMConfig())
	chat := &Chat{ID: uuid.New(), UserID: uuid.New()}

	_, err := svc.SendMessage(context.Background(), chat, chat.UserID, "hello")

	var denied *QuotaDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, quota.ReasonDailyResponseLimitExceeded, denied.Decision.Reason)
	assert.Empty(t, repo.messages)
}

func TestSendMessage_WarningPropagates(t *testing.T) {
	repo := &fakeRepository{}
	admitter := &fakeAdmitter{decision: quota.Decision{
		Allowed: true,
		Warning: quota.WarningExtendedLimit,
	}}
	completer := &MockCompleter{CompleteFunc: func(context.Context, []Message, int) (string, error) {
		return "long reply", nil
	}}

	svc := NewService(repo, admitter, completer, nil, testLLMConfig())
	chat := &Chat{ID: uuid.New(), UserID: uuid.New()}

	ex, err := svc.SendMessage(context.Background(), chat, chat.UserID, "hello")

	require.NoError(t, err)
	assert.Equal(t, quota.WarningExtendedLimit, ex.Warning)
}

func TestSendMessage_CompleterFailure(t *testing.T) {
	repo := &fakeRepository{}
	admitter := &fakeAdmitter{decision: quota.Decision{Allowed: true}}
	completer := &MockCompleter{CompleteFunc: func(context.Context, []Message, int) (string, error) {
		return "", errors.New("upstream timeout")
	}}

	svc := NewService(repo, admitter, completer, nil, testLLMConfig())
	chat := &Chat{ID: uuid.New(), UserID: uuid.New()}

	_, err := svc.SendMessage(context.Background(), chat, chat.UserID, "hello")

	require.Error(t, err)
	var denied *QuotaDeniedError
	assert.False(t, errors.As(err, &denied))
	// The user message was persisted before the completion attempt.
	assert.Len(t, repo.messages, 1)
}

func TestSendMessage_HistoryFeedsEstimate(t *testing.T) {
	repo := &fakeRepository{messages: []Message{
		{Sender: SenderUser, Content: "older question with some length to it"},
		{Sender: SenderAI, Content: "older answer with some length to it too"},
	}}
	admitter := &fakeAdmitter{decision: quota.Decision{Allowed: true}}
	completer := &MockCompleter{CompleteFunc: func(_ context.Context, history []Message, _ int) (string, error) {
		// The new user message rides at the end of the replayed history.
		require.Len(t, history, 3)
		assert.Equal(t, SenderUser, history[2].Sender)
		return "ok", nil
	}}

	svc := NewService(repo, admitter, completer, nil, testLLMConfig())
	chat := &Chat{ID: uuid.New(), UserID: uuid.New()}

	_, err := svc.SendMessage(context.Background(), chat, chat.UserID, "new question")

	require.NoError(t, err)
	freshEstimate := estimateTokens("new question")
	assert.Greater(t, admitter.gotIn, freshEstimate)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("hi"))
	assert.Equal(t, 1, estimateTokens("four"))
	assert.Equal(t, 2, estimateTokens("fives"))
	assert.Equal(t, 25, estimateTokens(string(make([]byte, 100))))
}
