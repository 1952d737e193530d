// Package condenser keeps a long-running agent conversation inside a
// bounded context budget by selectively forgetting low-value history and
// replacing it with an LLM-written summary.
package condenser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/anvil/pkg/llm"
	"github.com/entrhq/anvil/pkg/logging"
	"github.com/entrhq/anvil/pkg/memory"
	"github.com/entrhq/anvil/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("condenser")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize condenser logger, using stderr fallback: %v", err)
	}
}

// Metrics records what the most recent condensation pass did.
type Metrics struct {
	// EventsCompressed is how many events the pass forgot.
	EventsCompressed int

	// CompressionRatio is summary length divided by the total character
	// length of the forgotten events.
	CompressionRatio float64

	// UsedFallback is true when the LLM compression call failed and the
	// rule-based summarizer produced the summary instead.
	UsedFallback bool
}

// Condenser decides which events to forget and produces the condensation
// record the agent appends to its log. A Condenser instance must be owned
// exclusively by one in-flight session at a time; callers needing
// concurrency use separate instances.
type Condenser struct {
	cfg      Config
	provider llm.Provider
	scorer   *Scorer
	metrics  Metrics
}

// New creates a condenser. Configuration violations are fatal here, never
// at condensation time.
func New(cfg Config, provider llm.Provider) (*Condenser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid condenser config: %w", err)
	}
	var scorer *Scorer
	if cfg.EnableSemanticAnalysis {
		scorer = NewScorer(DefaultKeywordPolicy())
	}
	return &Condenser{cfg: cfg, provider: provider, scorer: scorer}, nil
}

// WithScorer replaces the default importance scorer, letting callers tune
// the keyword policy. Returns the condenser for chaining.
func (c *Condenser) WithScorer(scorer *Scorer) *Condenser {
	c.scorer = scorer
	return c
}

// ShouldCondense reports whether the view exceeds the configured budget.
func (c *Condenser) ShouldCondense(view *memory.View) bool {
	return view.Len() > c.cfg.MaxSize
}

// LastMetrics returns what the most recent Condense call recorded.
func (c *Condenser) LastMetrics() Metrics { return c.metrics }

// Condense selects the events to forget, obtains a compressed summary for
// them, and returns the condensation record to append to the log. It never
// fails: if the LLM compression call errors, a deterministic rule-based
// summary is produced instead.
func (c *Condenser) Condense(ctx context.Context, view *memory.View) *types.Condensation {
	targetSize := int(float64(c.cfg.MaxSize) * c.cfg.MaxCompressionRatio)
	if targetSize < c.cfg.KeepFirst+2 {
		targetSize = c.cfg.KeepFirst + 2
	}

	previousSummary := c.currentSummary(view)
	forgotten := c.selectForgotten(view, targetSize)

	if len(forgotten) == 0 {
		// Nothing to forget; emit a record that collapses to the last
		// event so the pass is visible in the log without reshaping
		// the view head.
		last := view.Last()
		debugLog.Printf("Condensation skipped: no forgettable events in view of %d", view.Len())
		return &types.Condensation{
			EventBase:        types.EventBase{At: time.Now()},
			ForgottenStartID: last.ID(),
			ForgottenEndID:   last.ID(),
			Summary:          "No events to compress",
			SummaryOffset:    c.cfg.KeepFirst,
		}
	}

	startID, endID := idRange(forgotten)
	summary := c.compress(ctx, previousSummary, forgotten)

	debugLog.Printf("Condensed %d events (ids %d-%d) into %d chars (ratio %.3f, fallback=%v)",
		c.metrics.EventsCompressed, startID, endID, len(summary), c.metrics.CompressionRatio, c.metrics.UsedFallback)

	return &types.Condensation{
		EventBase:        types.EventBase{At: time.Now()},
		ForgottenStartID: startID,
		ForgottenEndID:   endID,
		Summary:          summary,
		SummaryOffset:    c.cfg.KeepFirst,
	}
}

// currentSummary returns the summary event sitting at the keep-first offset
// of the view, or the synthetic initial summary when the view has not been
// condensed yet.
func (c *Condenser) currentSummary(view *memory.View) string {
	if c.cfg.KeepFirst < view.Len() {
		if s, ok := view.At(c.cfg.KeepFirst).(*types.SummaryEvent); ok {
			return s.Summary
		}
	}
	return initialSummary
}

// selectForgotten picks the events to forget: everything strictly between
// the protected head and the retained tail, minus summary events, filtered
// down to the least important half when semantic analysis is on.
func (c *Condenser) selectForgotten(view *memory.View, targetSize int) []types.Event {
	tailKeep := targetSize - c.cfg.KeepFirst - 1 // -1 for the summary slot
	if tailKeep >= view.Len()-c.cfg.KeepFirst {
		return nil
	}

	end := view.Len()
	if tailKeep > 0 {
		end = view.Len() - tailKeep
	}

	candidates := make([]types.Event, 0, end-c.cfg.KeepFirst)
	for _, ev := range view.Slice(c.cfg.KeepFirst, end).Events() {
		if _, ok := ev.(*types.SummaryEvent); ok {
			continue
		}
		candidates = append(candidates, ev)
	}

	if c.scorer == nil || len(candidates) == 0 {
		return candidates
	}

	// Forget the least important half, rounded up, at least one event.
	// The survivors stay in the view this pass and remain candidates for
	// a future one.
	ranked := c.scorer.rankAscending(candidates)
	n := (len(ranked) + 1) / 2
	if n < 1 {
		n = 1
	}
	forgotten := make([]types.Event, n)
	for i := 0; i < n; i++ {
		forgotten[i] = ranked[i].event
	}
	return forgotten
}

// compress obtains the new summary for the forgotten events, preferring the
// LLM and falling back to the rule-based summarizer on failure. Compression
// metrics are recorded as a side effect.
func (c *Condenser) compress(ctx context.Context, previousSummary string, forgotten []types.Event) string {
	prompt := c.buildCompressionPrompt(previousSummary, forgotten)

	resp, err := c.provider.Completion(ctx, &llm.Request{
		Messages: []*types.Message{
			types.NewSystemMessage(compressionSystemPrompt),
			types.NewUserMessage(prompt),
		},
	})

	var summary string
	if err != nil {
		debugLog.Warnf("Compression call failed, using rule-based fallback: %v", err)
		summary = c.fallbackSummary(previousSummary, forgotten)
		c.recordMetrics(summary, forgotten, true)
		return summary
	}

	summary = resp.Text()
	if summary == "" {
		summary = failedSummary
	}
	c.recordMetrics(summary, forgotten, false)
	return summary
}

func (c *Condenser) recordMetrics(summary string, forgotten []types.Event, fallback bool) {
	total := 0
	for _, ev := range forgotten {
		total += len(types.EventText(ev))
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(len(summary)) / float64(total)
	}
	c.metrics = Metrics{
		EventsCompressed: len(forgotten),
		CompressionRatio: ratio,
		UsedFallback:     fallback,
	}
}

// fallbackSummary is the deterministic rule-based summarizer used when the
// compression call fails. It tallies forgotten events by kind, pulls a few
// error and success snippets, appends the truncated previous summary, and
// caps the whole result at 1000 characters. It cannot fail.
func (c *Condenser) fallbackSummary(previousSummary string, forgotten []types.Event) string {
	kindCounts := make(map[types.EventKind]int)
	var errorSnippets, successSnippets []string

	for _, ev := range forgotten {
		kindCounts[ev.Kind()]++

		text := types.EventText(ev)
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
			if len(errorSnippets) < 3 {
				errorSnippets = append(errorSnippets, "error: "+snippet(text, 100))
			}
		case strings.Contains(lower, "success") || strings.Contains(lower, "completed"):
			if len(successSnippets) < 3 {
				successSnippets = append(successSnippets, "success: "+snippet(text, 100))
			}
		}
	}

	var b strings.Builder
	b.WriteString("Compression fallback summary:\n")
	b.WriteString(fmt.Sprintf("Processed %d events\n", len(forgotten)))

	if len(kindCounts) > 0 {
		kinds := make([]string, 0, len(kindCounts))
		for kind := range kindCounts {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			parts = append(parts, fmt.Sprintf("%s(%d)", kind, kindCounts[types.EventKind(kind)]))
		}
		b.WriteString("Event kinds: " + strings.Join(parts, ", ") + "\n")
	}

	if len(successSnippets) > 0 {
		b.WriteString("Key results:\n" + strings.Join(successSnippets, "\n") + "\n")
	}
	if len(errorSnippets) > 0 {
		b.WriteString("Errors encountered:\n" + strings.Join(errorSnippets, "\n") + "\n")
	}
	if previousSummary != "" {
		b.WriteString("\nPrevious state: " + snippet(previousSummary, 200))
	}

	result := b.String()
	if len(result) > 1000 {
		result = result[:1000]
	}
	return result
}

// truncate caps event content at the configured per-event length for
// prompt construction.
func (c *Condenser) truncate(content string) string {
	if len(content) <= c.cfg.MaxEventLength {
		return content
	}
	return content[:c.cfg.MaxEventLength] + "... [truncated]"
}

// snippet caps content at n characters with an ellipsis.
func snippet(content string, n int) string {
	if len(content) <= n {
		return content
	}
	return content[:n] + "..."
}

// idRange returns the minimum and maximum event ids of the given events.
func idRange(events []types.Event) (int, int) {
	start, end := events[0].ID(), events[0].ID()
	for _, ev := range events[1:] {
		if ev.ID() < start {
			start = ev.ID()
		}
		if ev.ID() > end {
			end = ev.ID()
		}
	}
	return start, end
}
