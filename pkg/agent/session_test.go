package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/entrhq/anvil/pkg/condenser"
	"github.com/entrhq/anvil/pkg/llm"
	"github.com/entrhq/anvil/pkg/memory"
	"github.com/entrhq/anvil/pkg/retry"
	"github.com/entrhq/anvil/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLLMProvider is a testify mock of llm.Provider.
type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) Completion(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

func (m *MockLLMProvider) Model() string { return "mock" }

func textResponse(text string) *llm.Response {
	return &llm.Response{Choices: []llm.Choice{{Message: llm.ResponseMessage{Content: text}}}}
}

// newTestSession wires a session by hand so tests control every policy knob
// and skip the tokenizer.
func newTestSession(t *testing.T, provider llm.Provider, condCfg condenser.Config, systemPrompt string) *Session {
	t.Helper()
	cond, err := condenser.New(condCfg, provider)
	require.NoError(t, err)
	retrier, err := retry.NewController(retry.DefaultConfig())
	require.NoError(t, err)
	return &Session{
		log:          memory.NewEventLog(),
		condenser:    cond,
		retrier:      retrier,
		provider:     provider,
		systemPrompt: systemPrompt,
	}
}

func TestStep_IssuesCompletionWithRenderedView(t *testing.T) {
	provider := new(MockLLMProvider)

	var captured *llm.Request
	provider.On("Completion", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*llm.Request) }).
		Return(textResponse("hello"), nil)

	s := newTestSession(t, provider, condenser.DefaultConfig(), "you are an agent")
	s.AddUserMessage("list the files")
	s.Append(types.NewActionEvent("run_command", "", "ls -la"))
	s.Append(types.NewObservationEvent("main.go  go.mod", false))

	resp, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text())

	require.NotNil(t, captured)
	require.Len(t, captured.Messages, 4)
	assert.Equal(t, types.RoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "you are an agent", captured.Messages[0].Content)
	assert.Equal(t, types.RoleUser, captured.Messages[1].Role)
	assert.Equal(t, "list the files", captured.Messages[1].Content)
	assert.Equal(t, types.RoleAssistant, captured.Messages[2].Role)
	assert.Equal(t, "ls -la", captured.Messages[2].Content)
	assert.Equal(t, types.RoleUser, captured.Messages[3].Role)
	assert.Equal(t, "Observation: main.go  go.mod", captured.Messages[3].Content)
}

func TestStep_CondensesWhenOverBudget(t *testing.T) {
	provider := new(MockLLMProvider)
	provider.On("Completion", mock.Anything, mock.Anything).Return(textResponse("summary text"), nil)

	cfg := condenser.Config{
		MaxSize:                8,
		KeepFirst:              1,
		MaxCompressionRatio:    0.5,
		MaxEventLength:         8000,
		EnableSemanticAnalysis: true,
	}
	s := newTestSession(t, provider, cfg, "")
	s.AddUserMessage("task")
	for i := 0; i < 9; i++ {
		s.Append(types.NewObservationEvent(fmt.Sprintf("observation %d", i), false))
	}
	require.Equal(t, 10, s.View().Len())

	_, err := s.Step(context.Background())
	require.NoError(t, err)

	// The compression call plus the completion.
	provider.AssertNumberOfCalls(t, "Completion", 2)

	view := s.View()
	assert.Less(t, view.Len(), 10)

	summary, ok := view.At(1).(*types.SummaryEvent)
	require.True(t, ok, "summary spliced at the keep_first offset")
	assert.Equal(t, "summary text", summary.Summary)
}

func TestStep_UnderBudgetSkipsCondensation(t *testing.T) {
	provider := new(MockLLMProvider)
	provider.On("Completion", mock.Anything, mock.Anything).Return(textResponse("ok"), nil)

	s := newTestSession(t, provider, condenser.DefaultConfig(), "")
	s.AddUserMessage("small talk")

	_, err := s.Step(context.Background())
	require.NoError(t, err)

	provider.AssertNumberOfCalls(t, "Completion", 1)
	assert.Equal(t, 1, s.Log().Len())
}

func TestRenderMessages_SummaryCarriesMetadata(t *testing.T) {
	s := newTestSession(t, new(MockLLMProvider), condenser.DefaultConfig(), "")

	log := memory.NewEventLog()
	log.Append(types.NewMessageEvent(types.SourceUser, "begin"))
	log.Append(types.NewObservationEvent("step", false))
	log.Append(&types.Condensation{
		ForgottenStartID: 2,
		ForgottenEndID:   2,
		Summary:          "older history",
		SummaryOffset:    1,
	})

	messages := s.renderMessages(log.View())
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleAssistant, messages[1].Role)
	assert.Equal(t, "older history", messages[1].Content)
	assert.Equal(t, true, messages[1].Metadata["summarized"])
}

func TestRenderMessages_AgentMessageSpeaksAsAssistant(t *testing.T) {
	s := newTestSession(t, new(MockLLMProvider), condenser.DefaultConfig(), "")

	log := memory.NewEventLog()
	log.Append(types.NewMessageEvent(types.SourceAgent, "plan: read the file first"))

	messages := s.renderMessages(log.View())
	require.Len(t, messages, 1)
	assert.Equal(t, types.RoleAssistant, messages[0].Role)
	assert.Equal(t, "plan: read the file first", messages[0].Content)
}

// wordCounter is a deterministic tokenCounter stub: one token per
// whitespace-separated word, no framing overhead.
type wordCounter struct{}

func (wordCounter) CountMessagesTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(strings.Fields(msg.Content))
	}
	return total
}

func TestStep_RecordsPromptTokenEstimate(t *testing.T) {
	provider := new(MockLLMProvider)
	provider.On("Completion", mock.Anything, mock.Anything).Return(textResponse("ok"), nil)

	s := newTestSession(t, provider, condenser.DefaultConfig(), "be brief")
	s.tok = wordCounter{}
	assert.Zero(t, s.LastPromptTokens(), "no estimate before the first step")

	s.AddUserMessage("count these four words")

	_, err := s.Step(context.Background())
	require.NoError(t, err)

	// "be brief" + "count these four words" rendered as two messages.
	assert.Equal(t, 6, s.LastPromptTokens())
}

func TestNewSession_AppendAssignsIDs(t *testing.T) {
	s := newTestSession(t, new(MockLLMProvider), condenser.DefaultConfig(), "")

	assert.Equal(t, 1, s.AddUserMessage("first"))
	assert.Equal(t, 2, s.AddUserMessage("second"))
	assert.Equal(t, 2, s.View().Len())
}
