package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/entrhq/anvil/pkg/llm"
	"github.com/entrhq/anvil/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestController builds a controller whose sleep records the requested
// waits instead of blocking.
func newTestController(t *testing.T, cfg Config) (*Controller, *[]time.Duration) {
	t.Helper()
	c, err := NewController(cfg)
	require.NoError(t, err)

	waits := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return c, waits
}

func networkError() *llm.APIError {
	return &llm.APIError{Kind: llm.KindNetwork, Provider: "openai", Message: "503 service unavailable"}
}

func simpleRequest(n int) *llm.Request {
	req := &llm.Request{}
	req.Messages = append(req.Messages, types.NewSystemMessage("you are an agent"))
	for i := 0; i < n; i++ {
		req.Messages = append(req.Messages, types.NewUserMessage(fmt.Sprintf("message %d", i)))
	}
	return req
}

func TestNewController_ConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero retries", func(c *Config) { c.NumRetries = 0 }, false},
		{"max below min", func(c *Config) { c.MaxWait = time.Second }, false},
		{"negative min", func(c *Config) { c.MinWait = -time.Second }, false},
		{"zero multiplier", func(c *Config) { c.Multiplier = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewController(cfg)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	c, waits := newTestController(t, DefaultConfig())

	calls := 0
	resp, err := c.Do(context.Background(), simpleRequest(2), func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		calls++
		return &llm.Response{}, nil
	})

	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDo_ExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumRetries = 3
	c, waits := newTestController(t, cfg)

	callErr := networkError()
	calls := 0
	resp, err := c.Do(context.Background(), simpleRequest(2), func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		calls++
		return nil, callErr
	})

	assert.Nil(t, resp)
	assert.Equal(t, 3, calls, "attempt budget includes the first call")
	assert.Len(t, *waits, 2, "no wait after the final attempt")

	// Error identity survives the loop, with retry metadata attached.
	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Same(t, callErr, apiErr)
	assert.Equal(t, 3, apiErr.RetryAttempt)
	assert.Equal(t, 3, apiErr.MaxRetries)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	c, waits := newTestController(t, DefaultConfig())

	calls := 0
	_, err := c.Do(context.Background(), simpleRequest(2), func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		calls++
		return nil, errors.New("invalid request payload")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	c, waits := newTestController(t, DefaultConfig())

	calls := 0
	resp, err := c.Do(context.Background(), simpleRequest(2), func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		calls++
		if calls < 3 {
			return nil, networkError()
		}
		return &llm.Response{}, nil
	})

	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, 3, calls)

	// Default schedule: multiplier 2 gives 2s and 4s, both clamped up to
	// the 5s minimum.
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, *waits)
}

func TestDo_TokenLimitOverridesBackoffWait(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumRetries = 4
	c, waits := newTestController(t, cfg)

	req := simpleRequest(10)
	_, err := c.Do(context.Background(), req, func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, &llm.APIError{Kind: llm.KindContextWindow, Provider: "openai", Message: "context length exceeded"}
	})

	require.Error(t, err)
	// The classifier's short fixed wait replaces the exponential schedule.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, *waits)
}

func TestDo_TokenLimitCompressesRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumRetries = 2
	c, _ := newTestController(t, cfg)

	req := simpleRequest(10) // system + 10 user messages
	_, err := c.Do(context.Background(), req, func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, &llm.APIError{Kind: llm.KindContextWindow, Provider: "openai", Message: "maximum context reached"}
	})

	require.Error(t, err)
	require.Len(t, req.Messages, 7, "system message plus the last six")
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "message 9", req.Messages[len(req.Messages)-1].Content)
}

func TestDo_NoResponseRaisesTemperature(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumRetries = 2
	c, _ := newTestController(t, cfg)

	req := simpleRequest(2)
	require.Zero(t, req.Temperature)

	_, err := c.Do(context.Background(), req, func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, &llm.APIError{Kind: llm.KindNoResponse, Provider: "openai", Message: "no response returned: completion contained no choices"}
	})

	require.Error(t, err)
	assert.Equal(t, 1.0, req.Temperature)
}

func TestDo_ExplicitTemperaturePreserved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumRetries = 2
	c, _ := newTestController(t, cfg)

	req := simpleRequest(2)
	req.Temperature = 0.7

	_, err := c.Do(context.Background(), req, func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, &llm.APIError{Kind: llm.KindNoResponse, Provider: "openai", Message: "no response returned: completion contained no choices"}
	})

	require.Error(t, err)
	assert.Equal(t, 0.7, req.Temperature)
}

func TestDo_ShouldAbortReturnsErrAbandoned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShouldAbort = func() bool { return true }
	c, waits := newTestController(t, cfg)

	calls := 0
	_, err := c.Do(context.Background(), simpleRequest(2), func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		calls++
		return nil, networkError()
	})

	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Contains(t, err.Error(), "503 service unavailable", "last call error carried as text")
	assert.Equal(t, 1, calls, "in-flight attempt completes, no further attempts start")
	assert.Empty(t, *waits)
}

func TestDo_ListenerSeesEachWait(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumRetries = 3

	var seen [][2]int
	cfg.Listener = func(attempt, maxAttempts int) {
		seen = append(seen, [2]int{attempt, maxAttempts})
	}
	c, _ := newTestController(t, cfg)

	_, err := c.Do(context.Background(), simpleRequest(2), func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return nil, networkError()
	})

	require.Error(t, err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}}, seen)
}

func TestDo_CanceledContextStopsWaiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumRetries = 3
	c, err := NewController(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err = c.Do(ctx, simpleRequest(2), func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		calls++
		return nil, networkError()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffWait_Clamping(t *testing.T) {
	cfg := DefaultConfig() // multiplier 2, min 5s, max 30s
	c, err := NewController(cfg)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, c.backoffWait(1), "2s clamps up to min")
	assert.Equal(t, 8*time.Second, c.backoffWait(3))
	assert.Equal(t, 16*time.Second, c.backoffWait(4))
	assert.Equal(t, 30*time.Second, c.backoffWait(5), "32s clamps down to max")
}

func TestEmergencyCompress(t *testing.T) {
	t.Run("short lists are untouched", func(t *testing.T) {
		msgs := simpleRequest(2).Messages // 3 messages
		out, ok := EmergencyCompress(msgs)
		assert.False(t, ok)
		assert.Equal(t, msgs, out)
	})

	t.Run("keeps system head and last six", func(t *testing.T) {
		msgs := simpleRequest(12).Messages // system + 12
		out, ok := EmergencyCompress(msgs)
		require.True(t, ok)
		require.Len(t, out, 7)
		assert.Equal(t, types.RoleSystem, out[0].Role)
		assert.Equal(t, "message 6", out[1].Content)
		assert.Equal(t, "message 11", out[6].Content)
	})

	t.Run("no system message", func(t *testing.T) {
		var msgs []*types.Message
		for i := 0; i < 9; i++ {
			msgs = append(msgs, types.NewUserMessage(fmt.Sprintf("m%d", i)))
		}
		out, ok := EmergencyCompress(msgs)
		require.True(t, ok)
		require.Len(t, out, 6)
		assert.Equal(t, "m3", out[0].Content)
	})

	t.Run("refuses a non-shrinking pass", func(t *testing.T) {
		// System + 4: compressed result would be the same 5 messages.
		msgs := simpleRequest(4).Messages
		out, ok := EmergencyCompress(msgs)
		assert.False(t, ok)
		assert.Equal(t, msgs, out)
	})
}
