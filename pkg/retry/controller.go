package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/entrhq/anvil/pkg/llm"
	"github.com/entrhq/anvil/pkg/logging"
	"github.com/entrhq/anvil/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("retry")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize retry logger, using stderr fallback: %v", err)
	}
}

// ErrAbandoned is returned when the external cancellation predicate signals
// between attempts. It is distinguishable from the underlying call failure:
// errors.Is(err, ErrAbandoned) holds, and the last call error is carried
// only as rendered text.
var ErrAbandoned = errors.New("retry abandoned by cancellation signal")

// Config controls the retry loop around one LLM call.
type Config struct {
	// NumRetries is the total attempt budget (first call included).
	NumRetries int

	// MinWait, MaxWait, and Multiplier parameterize the default
	// exponential backoff schedule: multiplier * 2^(attempt-1), clamped
	// to [MinWait, MaxWait].
	MinWait    time.Duration
	MaxWait    time.Duration
	Multiplier float64

	// RetryableKinds lists the error kinds worth retrying. Failures of
	// any other kind are returned immediately.
	RetryableKinds []llm.ErrorKind

	// Listener, when set, is invoked before each inter-attempt wait.
	Listener func(attempt, maxAttempts int)

	// ShouldAbort, when set, is polled once per loop iteration between
	// attempts. Returning true abandons the retry loop immediately,
	// regardless of remaining attempts. An attempt already in flight is
	// never interrupted by it.
	ShouldAbort func() bool
}

// DefaultConfig returns the retry defaults used by agent sessions.
func DefaultConfig() Config {
	return Config{
		NumRetries: 5,
		MinWait:    5 * time.Second,
		MaxWait:    30 * time.Second,
		Multiplier: 2,
		RetryableKinds: []llm.ErrorKind{
			llm.KindRateLimit,
			llm.KindNoResponse,
			llm.KindContextWindow,
			llm.KindNetwork,
			llm.KindTimeout,
		},
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.NumRetries < 1 {
		return fmt.Errorf("num_retries (%d) must be at least 1", c.NumRetries)
	}
	if c.MinWait < 0 || c.MaxWait < c.MinWait {
		return fmt.Errorf("retry waits invalid: min %v, max %v", c.MinWait, c.MaxWait)
	}
	if c.Multiplier <= 0 {
		return fmt.Errorf("retry_multiplier (%v) must be positive", c.Multiplier)
	}
	return nil
}

// CallFunc performs one attempt of the underlying LLM call.
type CallFunc func(ctx context.Context, req *llm.Request) (*llm.Response, error)

// Controller owns the attempt loop around one LLM call. Per failed attempt
// it classifies the error, optionally mutates the carried request (message
// list, temperature), waits, and resubmits. A Controller must be owned
// exclusively by one in-flight call at a time.
type Controller struct {
	cfg        Config
	classifier *Classifier

	// sleep is stubbed in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a retry controller. Configuration violations are
// fatal here.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	return &Controller{
		cfg:        cfg,
		classifier: NewClassifier(),
		sleep:      sleepContext,
	}, nil
}

// Do runs the call until it succeeds, its failure is not retryable, the
// attempt budget is exhausted, or cancellation is signaled. On exhaustion
// the last call error is returned unchanged (with retry metadata attached
// when the error supports it), preserving the caller-visible error
// identity.
//
// The request is mutated in place between attempts; callers that need to
// keep the original intact should pass req.Clone().
func (c *Controller) Do(ctx context.Context, req *llm.Request, call CallFunc) (*llm.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.NumRetries; attempt++ {
		resp, err := call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		llm.AttachRetryInfo(err, attempt, c.cfg.NumRetries)

		if !c.retryable(err) {
			return nil, err
		}
		if attempt == c.cfg.NumRetries {
			break
		}

		result := c.classify(err, attempt)
		wait := c.backoffWait(attempt)

		debugLog.Errorf("%v. Attempt #%d/%d | Action: %s",
			err, attempt, c.cfg.NumRetries, result.Action)

		switch result.Action {
		case ActionCompressAndRetry:
			if compressed, ok := EmergencyCompress(req.Messages); ok {
				debugLog.Infof("Emergency context compression: %d -> %d messages",
					len(req.Messages), len(compressed))
				req.Messages = compressed
			} else {
				debugLog.Warnf("Emergency compression could not reduce the message list")
			}
			if result.Hints != (TokenHints{}) {
				debugLog.Infof("Token hints: current=%d limit=%d quota=%d",
					result.Hints.CurrentTokens, result.Hints.Limit, result.Hints.Quota)
			}
			// Token failures are actionable right after compression;
			// override the schedule with the classifier's short wait.
			wait = result.Wait
		case ActionExponentialBackoff:
			debugLog.Infof("Transient network failure, backing off %v (classifier recommended %v)",
				wait, result.Wait)
		}

		if llm.IsNoResponse(err) && req.Temperature == 0 {
			req.Temperature = 1.0
			debugLog.Warnf("No response at temperature=0, raising temperature to 1.0 for next attempt")
		}

		if c.cfg.ShouldAbort != nil && c.cfg.ShouldAbort() {
			return nil, fmt.Errorf("%w after attempt %d (last error: %v)", ErrAbandoned, attempt, lastErr)
		}

		if c.cfg.Listener != nil {
			c.cfg.Listener(attempt, c.cfg.NumRetries)
		}

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// classify wraps the classifier so an unexpected classification panic can
// never block the retry loop; it degrades to the standard strategy with a
// logged warning.
func (c *Controller) classify(err error, attempt int) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			debugLog.Warnf("Classification failed (%v), using standard retry", r)
			result = Result{
				Classification: ClassOther,
				Action:         ActionStandardRetry,
				Wait:           time.Duration(5*attempt) * time.Second,
			}
		}
	}()
	return c.classifier.Classify(err, attempt)
}

// retryable reports whether the error's kind is in the configured set.
func (c *Controller) retryable(err error) bool {
	kind := llm.KindOf(err)
	for _, k := range c.cfg.RetryableKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// backoffWait computes the default exponential schedule wait for an
// attempt: multiplier * 2^(attempt-1) seconds, clamped to the configured
// bounds.
func (c *Controller) backoffWait(attempt int) time.Duration {
	wait := time.Duration(c.cfg.Multiplier * math.Pow(2, float64(attempt-1)) * float64(time.Second))
	if wait < c.cfg.MinWait {
		wait = c.cfg.MinWait
	}
	if wait > c.cfg.MaxWait {
		wait = c.cfg.MaxWait
	}
	return wait
}

// sleepContext blocks for d or until the context is canceled, whichever
// comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EmergencyCompress applies the last-resort message-list shrink used to
// recover from context-overflow failures mid-retry: keep the leading system
// message if there is one, then keep at most the last 6 of the remaining
// messages. It reports false, returning the input unchanged, when the list
// has 3 or fewer messages or when shrinking would not strictly reduce it.
func EmergencyCompress(messages []*types.Message) ([]*types.Message, bool) {
	if len(messages) <= 3 {
		return messages, false
	}

	var compressed []*types.Message
	remaining := messages
	if messages[0].Role == types.RoleSystem {
		compressed = append(compressed, messages[0])
		remaining = messages[1:]
	}

	if len(remaining) > 6 {
		compressed = append(compressed, remaining[len(remaining)-6:]...)
	} else {
		compressed = append(compressed, remaining...)
	}

	if len(compressed) >= len(messages) {
		return messages, false
	}
	return compressed, true
}
