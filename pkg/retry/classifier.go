// Package retry makes individual LLM calls resilient to transient provider
// failures and context-overflow errors through an adaptive policy that can
// mutate the outbound request between attempts.
package retry

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Classification categorizes a call failure for retry strategy selection.
type Classification string

const (
	ClassTokenLimit       Classification = "token_limit"       // ClassTokenLimit is token/context-length/quota exhaustion.
	ClassNetworkTransient Classification = "network_transient" // ClassNetworkTransient is a connectivity or gateway failure.
	ClassOther            Classification = "other"             // ClassOther is any failure the indicators do not match.
)

// Action tags the retry strategy recommended for a classification.
type Action string

const (
	ActionCompressAndRetry   Action = "compress_and_retry"        // ActionCompressAndRetry shrinks the message list and retries after a short fixed wait.
	ActionExponentialBackoff Action = "exponential_backoff_retry" // ActionExponentialBackoff keeps the standard exponential backoff schedule.
	ActionStandardRetry      Action = "standard_retry"            // ActionStandardRetry retries on a linear schedule.
)

// TokenHints carries numeric token figures extracted from an error message.
// Purely informational; zero means the figure was absent.
type TokenHints struct {
	CurrentTokens int
	Limit         int
	Quota         int
}

// Result is the classifier's recommendation for one failed attempt.
type Result struct {
	Classification Classification
	Action         Action

	// Wait is the recommended wait before the next attempt. For
	// ActionExponentialBackoff the controller uses its own configured
	// schedule and treats this value as telemetry only.
	Wait time.Duration

	// Hints holds token figures parsed from the message, when present.
	Hints TokenHints
}

// DefaultBaseWait is the base wait for the network backoff recommendation.
const DefaultBaseWait = 5 * time.Second

// tokenLimitIndicators are the provider phrases naming token, context
// length, or quota exhaustion.
var tokenLimitIndicators = []string{
	"token quota", "token limit", "context length",
	"maximum context", "too many tokens", "context_length_exceeded",
	"tokens exceed", "input too long", "context window",
}

// networkIndicators are the phrases naming transient connectivity failures.
var networkIndicators = []string{
	"connection error", "timeout", "network error",
	"503 service unavailable", "502 bad gateway",
	"504 gateway timeout", "connection refused",
}

var (
	tokenCountPattern = regexp.MustCompile(`(?i)(\d+)\s*tokens?`)
	tokenLimitPattern = regexp.MustCompile(`(?i)limit[:\s]*(\d+)`)
	tokenQuotaPattern = regexp.MustCompile(`(?i)quota[:\s]*(\d+)`)
)

// Classifier is a pure function over an error's rendered message: it decides
// how a failed attempt should be retried. Classification is independent of
// the error's Go type; only the message text matters, since providers do not
// expose structured error codes reliably.
type Classifier struct {
	baseWait time.Duration
}

// NewClassifier creates a classifier with the default network base wait.
func NewClassifier() *Classifier {
	return &Classifier{baseWait: DefaultBaseWait}
}

// WithBaseWait overrides the base wait used for the network backoff
// recommendation. Returns the classifier for chaining.
func (c *Classifier) WithBaseWait(baseWait time.Duration) *Classifier {
	c.baseWait = baseWait
	return c
}

// Classify inspects the failure and returns the recommended reaction for
// the given attempt number (≥ 1).
func (c *Classifier) Classify(err error, attempt int) Result {
	message := strings.ToLower(err.Error())

	if containsAny(message, tokenLimitIndicators) {
		// Token failures are immediately actionable after compression,
		// so the wait grows slowly and caps early.
		wait := time.Duration(2*attempt) * time.Second
		if wait > 10*time.Second {
			wait = 10 * time.Second
		}
		return Result{
			Classification: ClassTokenLimit,
			Action:         ActionCompressAndRetry,
			Wait:           wait,
			Hints:          extractTokenHints(err.Error()),
		}
	}

	if containsAny(message, networkIndicators) {
		wait := c.baseWait * (1 << (attempt - 1))
		if wait > 60*time.Second {
			wait = 60 * time.Second
		}
		return Result{
			Classification: ClassNetworkTransient,
			Action:         ActionExponentialBackoff,
			Wait:           wait,
		}
	}

	return Result{
		Classification: ClassOther,
		Action:         ActionStandardRetry,
		Wait:           time.Duration(5*attempt) * time.Second,
	}
}

// extractTokenHints pulls structured token figures out of the message text
// when the provider included them.
func extractTokenHints(message string) TokenHints {
	hints := TokenHints{}
	if m := tokenCountPattern.FindStringSubmatch(message); m != nil {
		hints.CurrentTokens, _ = strconv.Atoi(m[1])
	}
	if m := tokenLimitPattern.FindStringSubmatch(message); m != nil {
		hints.Limit, _ = strconv.Atoi(m[1])
	}
	if m := tokenQuotaPattern.FindStringSubmatch(message); m != nil {
		hints.Quota, _ = strconv.Atoi(m[1])
	}
	return hints
}

// containsAny reports whether text contains at least one of the needles.
func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
