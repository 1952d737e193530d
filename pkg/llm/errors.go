package llm

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a provider failure. The retry controller uses kinds
// to decide retryability; the retry classifier works on the rendered message
// text only, so kinds are a transport-level refinement, not a prerequisite.
type ErrorKind string

const (
	KindRateLimit     ErrorKind = "rate_limit"              // KindRateLimit is a 429 / quota exhaustion failure.
	KindNoResponse    ErrorKind = "no_response"             // KindNoResponse means the provider returned no choices.
	KindContextWindow ErrorKind = "context_window_exceeded" // KindContextWindow means the request exceeded the model's context length.
	KindNetwork       ErrorKind = "network"                 // KindNetwork is a transport or gateway failure.
	KindTimeout       ErrorKind = "timeout"                 // KindTimeout is a request deadline failure.
	KindOther         ErrorKind = "other"                   // KindOther is any unclassified provider failure.
)

// APIError is the typed failure surfaced by providers. Its Error() rendering
// is the sole input to retry classification, so Message must carry the
// provider's original error text.
type APIError struct {
	// Kind categorizes the failure.
	Kind ErrorKind

	// Provider names the backend that produced the failure.
	Provider string

	// Message is the provider's rendered error text.
	Message string

	// StatusCode is the HTTP status, when the failure came from an HTTP
	// response.
	StatusCode int

	// RetryAttempt and MaxRetries are attached by the retry controller
	// for observability; zero until a retry loop has seen the error.
	RetryAttempt int
	MaxRetries   int
}

// Error renders the provider's message text.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// KindOf returns the ErrorKind of err, or KindOther when err is not an
// APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindOther
}

// IsNoResponse reports whether err is an APIError of kind no_response.
func IsNoResponse(err error) bool {
	return KindOf(err) == KindNoResponse
}

// AttachRetryInfo records the current attempt number and retry budget on the
// error for observability. It reports whether the error supported the
// attachment; errors that are not APIErrors are left untouched.
func AttachRetryInfo(err error, attempt, maxRetries int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		apiErr.RetryAttempt = attempt
		apiErr.MaxRetries = maxRetries
		return true
	}
	return false
}
