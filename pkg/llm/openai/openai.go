// Package openai provides an OpenAI-compatible LLM provider implementation.
//
// The provider speaks the chat completions API over raw HTTP, which keeps it
// compatible with Azure OpenAI, local models, and other OpenAI-compatible
// services that diverge slightly from the official SDK's expectations. The
// openai-go SDK is used for its message parameter types so payloads stay
// wire-exact.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/entrhq/anvil/pkg/llm"
	"github.com/entrhq/anvil/pkg/types"
	"github.com/openai/openai-go"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client (timeouts, proxies, test doubles).
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY
// environment variable. If baseURL is not provided via WithBaseURL, the
// OPENAI_BASE_URL environment variable is checked before falling back to the
// public API endpoint.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      "gpt-4o",
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	return p, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Completion sends a non-streaming chat completion request and returns the
// parsed response. Failures are surfaced as *llm.APIError so retry policy
// can classify them from the rendered message text.
func (p *Provider) Completion(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": convertMessages(req.Messages),
	}
	if req.Temperature != 0 {
		body["temperature"] = req.Temperature
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, p.transportError(err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, p.statusError(httpResp.StatusCode, respBody)
	}

	return p.parseResponse(respBody)
}

// completionResponse mirrors the subset of the chat completions response
// the provider consumes.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) parseResponse(body []byte) (*llm.Response, error) {
	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return nil, &llm.APIError{
			Kind:     llm.KindNoResponse,
			Provider: "openai",
			Message:  "no response returned: completion contained no choices",
		}
	}

	resp := &llm.Response{}
	for _, c := range parsed.Choices {
		choice := llm.Choice{FinishReason: c.FinishReason}
		choice.Message.Content = c.Message.Content
		for _, tc := range c.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, types.ToolCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		resp.Choices = append(resp.Choices, choice)
	}
	if parsed.Usage != nil {
		resp.Usage = &llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return resp, nil
}

// transportError maps a client-side failure to a typed error.
func (p *Provider) transportError(err error) error {
	kind := llm.KindNetwork
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = llm.KindTimeout
	}
	return &llm.APIError{
		Kind:     kind,
		Provider: "openai",
		Message:  err.Error(),
	}
}

// statusError maps a non-200 HTTP response to a typed error. The original
// body text is preserved in the message so retry classification can match
// provider phrases like "context_length_exceeded".
func (p *Provider) statusError(status int, body []byte) error {
	message := string(body)
	kind := llm.KindOther

	switch {
	case status == http.StatusTooManyRequests:
		kind = llm.KindRateLimit
	case status == http.StatusBadRequest && isContextWindowMessage(message):
		kind = llm.KindContextWindow
	case status == http.StatusGatewayTimeout:
		kind = llm.KindTimeout
	case status >= 500:
		kind = llm.KindNetwork
	}

	return &llm.APIError{
		Kind:       kind,
		Provider:   "openai",
		Message:    message,
		StatusCode: status,
	}
}

// isContextWindowMessage checks for the provider phrases that signal the
// request exceeded the model's context length.
func isContextWindowMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range []string{
		"context_length_exceeded",
		"context length",
		"maximum context",
		"too many tokens",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// convertMessages converts anvil messages to OpenAI API message parameters.
func convertMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			params = append(params, openai.SystemMessage(msg.Content))
		case types.RoleUser:
			params = append(params, openai.UserMessage(msg.Content))
		case types.RoleAssistant:
			params = append(params, openai.AssistantMessage(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}
	return params
}
