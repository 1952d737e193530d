// Package agent ties the condensation and retry subsystems into a session
// loop: events accumulate in an append-only log, the condenser keeps the
// visible view inside budget, and every outbound LLM call goes through the
// retry controller.
package agent

import (
	"context"
	"fmt"

	"github.com/entrhq/anvil/pkg/condenser"
	"github.com/entrhq/anvil/pkg/llm"
	"github.com/entrhq/anvil/pkg/llm/tokenizer"
	"github.com/entrhq/anvil/pkg/logging"
	"github.com/entrhq/anvil/pkg/memory"
	"github.com/entrhq/anvil/pkg/retry"
	"github.com/entrhq/anvil/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("session")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize session logger, using stderr fallback: %v", err)
	}
}

// tokenCounter estimates the token cost of an outbound message list.
type tokenCounter interface {
	CountMessagesTokens(messages []*types.Message) int
}

// Session owns one agent conversation: its event log, the condensation
// policy over it, and the retry policy for its outbound calls. Sessions are
// single-threaded; each must be driven by one goroutine at a time.
type Session struct {
	log          *memory.EventLog
	condenser    *condenser.Condenser
	retrier      *retry.Controller
	provider     llm.Provider
	tok          tokenCounter
	systemPrompt string

	// lastPromptTokens is the token estimate of the most recent Step's
	// rendered prompt.
	lastPromptTokens int
}

// NewSession creates a session around the given provider and policies.
func NewSession(provider llm.Provider, cond *condenser.Condenser, retrier *retry.Controller, systemPrompt string) (*Session, error) {
	tok, err := tokenizer.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}
	return &Session{
		log:          memory.NewEventLog(),
		condenser:    cond,
		retrier:      retrier,
		provider:     provider,
		tok:          tok,
		systemPrompt: systemPrompt,
	}, nil
}

// Append records an event in the session log and returns its assigned id.
func (s *Session) Append(ev types.Event) int {
	return s.log.Append(ev)
}

// AddUserMessage appends a user message event and returns its id.
func (s *Session) AddUserMessage(text string) int {
	return s.Append(types.NewMessageEvent(types.SourceUser, text))
}

// View returns the current visible projection of the session log.
func (s *Session) View() *memory.View {
	return s.log.View()
}

// Log returns the session's event log.
func (s *Session) Log() *memory.EventLog {
	return s.log
}

// LastPromptTokens returns the token estimate of the prompt issued by the
// most recent Step, or zero before the first Step. Counts are approximate
// (cl100k_base) and intended for observability, not budget enforcement.
func (s *Session) LastPromptTokens() int {
	return s.lastPromptTokens
}

// Step runs one agent turn: condense the view if it exceeds budget, render
// it to a message list, and issue the completion through the retry
// controller.
func (s *Session) Step(ctx context.Context) (*llm.Response, error) {
	view := s.log.View()

	if s.condenser.ShouldCondense(view) {
		before := view.Len()
		action := s.condenser.Condense(ctx, view)
		s.log.Append(action)
		view = s.log.View()

		metrics := s.condenser.LastMetrics()
		debugLog.Printf("Condensed view %d -> %d events (%d compressed, ratio %.3f, fallback=%v)",
			before, view.Len(), metrics.EventsCompressed, metrics.CompressionRatio, metrics.UsedFallback)
	}

	req := &llm.Request{Messages: s.renderMessages(view)}
	if s.tok != nil {
		s.lastPromptTokens = s.tok.CountMessagesTokens(req.Messages)
		debugLog.Debugf("Issuing completion: %d messages, ~%d tokens",
			len(req.Messages), s.lastPromptTokens)
	}

	return s.retrier.Do(ctx, req, s.provider.Completion)
}

// renderMessages projects the view onto the LLM wire format. User messages
// and observations arrive with the user role (observations prefixed so the
// model can tell tool output from human input); agent messages, actions,
// and summaries speak as the assistant.
func (s *Session) renderMessages(view *memory.View) []*types.Message {
	messages := make([]*types.Message, 0, view.Len()+1)
	if s.systemPrompt != "" {
		messages = append(messages, types.NewSystemMessage(s.systemPrompt))
	}

	for _, ev := range view.Events() {
		switch e := ev.(type) {
		case *types.MessageEvent:
			if e.Source == types.SourceUser {
				messages = append(messages, types.NewUserMessage(e.DisplayText()))
			} else {
				messages = append(messages, types.NewAssistantMessage(e.DisplayText()))
			}
		case *types.ActionEvent:
			messages = append(messages, types.NewAssistantMessage(e.DisplayText()))
		case *types.ObservationEvent:
			messages = append(messages, types.NewUserMessage("Observation: "+e.Content))
		case *types.SummaryEvent:
			messages = append(messages,
				types.NewAssistantMessage(e.Summary).WithMetadata("summarized", true))
		default:
			messages = append(messages, types.NewUserMessage(types.EventText(ev)))
		}
	}
	return messages
}
