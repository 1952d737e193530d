// Package llm provides abstractions for LLM provider integration.
//
// Providers handle API communication with LLM services and surface failures
// as typed *APIError values whose rendered message text drives the retry
// classifier. This design keeps providers focused on transport concerns;
// condensation and retry policy live in their own packages and treat the
// provider as an external collaborator.
package llm

import (
	"context"

	"github.com/entrhq/anvil/pkg/types"
)

// Request is the mutable payload of one outbound completion call. The retry
// controller carries a single Request across attempts and may rewrite its
// message list or temperature between them, so callers must not share a
// Request between concurrent calls.
type Request struct {
	// Messages is the ordered conversation to send.
	Messages []*types.Message

	// Model optionally overrides the provider's configured model.
	Model string

	// Temperature is the sampling temperature. Zero means "provider
	// default"; the retry controller raises it to 1.0 when a no-response
	// failure occurs at temperature zero.
	Temperature float64

	// Extra holds provider-specific call parameters passed through
	// verbatim.
	Extra map[string]interface{}
}

// Clone returns a copy of the request with its own message slice, so retry
// mutation of one attempt cannot leak into a caller-held request.
func (r *Request) Clone() *Request {
	clone := *r
	clone.Messages = append([]*types.Message(nil), r.Messages...)
	if r.Extra != nil {
		clone.Extra = make(map[string]interface{}, len(r.Extra))
		for k, v := range r.Extra {
			clone.Extra[k] = v
		}
	}
	return &clone
}

// ResponseMessage is the assistant message inside a completion choice.
type ResponseMessage struct {
	Content   string
	ToolCalls []types.ToolCall
}

// Choice is one completion alternative returned by the provider.
type Choice struct {
	Message      ResponseMessage
	FinishReason string
}

// Usage reports token accounting for a completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a completion call.
type Response struct {
	Choices []Choice
	Usage   *Usage
}

// Text returns the content of the first choice, or the empty string when
// the response carries no choices.
func (r *Response) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Provider defines the interface for LLM integrations.
//
// Completion blocks until the model responds or the call fails. Failures are
// reported as typed errors (see APIError); no structured provider error codes
// are assumed beyond what the error message text carries.
type Provider interface {
	// Completion sends the request and returns the model's response.
	Completion(ctx context.Context, req *Request) (*Response, error)

	// Model returns the model name used when the request does not
	// override it.
	Model() string
}
