package condenser

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/anvil/pkg/types"
)

// KeywordPolicy is the tunable keyword table the scorer matches event
// content against. It is a policy, not a mechanism: swapping tables changes
// scoring behavior without touching scoring control flow.
type KeywordPolicy struct {
	Error              []string
	Success            []string
	UserInstruction    []string
	ImportantOperation []string
}

// DefaultKeywordPolicy returns the stock keyword table.
func DefaultKeywordPolicy() KeywordPolicy {
	return KeywordPolicy{
		Error: []string{
			"error", "failed", "exception", "traceback", "stderr",
			"timeout", "denied",
		},
		Success: []string{
			"success", "completed", "finished", "done", "passed",
			"ok", "created", "updated",
		},
		UserInstruction: []string{
			"please", "can you", "help me", "i need", "create", "fix", "update",
		},
		ImportantOperation: []string{
			"commit", "push", "merge", "deploy", "install", "build", "test",
			"git", "npm", "pip", "docker",
		},
	}
}

var (
	numberPattern   = regexp.MustCompile(`\d+`)
	filePathPattern = regexp.MustCompile(`[./\\][\w/\\.-]+\.\w+`)
	wordPattern     = regexp.MustCompile(`\b\w{3,}\b`)
)

// taskStopwords are common words excluded from task-relevance matching.
var taskStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"was": true, "one": true, "our": true, "out": true, "use": true,
}

// Scorer estimates how valuable an event is for retention, as a number in
// [0, 1]. Scores are transient: the temporal term depends on wall-clock
// time, so results are recomputed on every condensation pass and never
// cached.
type Scorer struct {
	policy KeywordPolicy

	// now is stubbed in tests to pin the temporal term.
	now func() time.Time
}

// NewScorer creates a scorer with the given keyword policy.
func NewScorer(policy KeywordPolicy) *Scorer {
	return &Scorer{policy: policy, now: time.Now}
}

// Score returns the importance of an event in [0, 1]. It is total: any
// internal failure degrades to a neutral 0.5 rather than aborting the
// condensation pass.
func (s *Scorer) Score(ev types.Event) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			score = 0.5
		}
	}()

	score = s.baseScore(ev) + s.contentScore(ev) + s.temporalScore(ev)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// baseScore is the category weight of the event's kind.
func (s *Scorer) baseScore(ev types.Event) float64 {
	switch e := ev.(type) {
	case *types.MessageEvent:
		return 0.4
	case *types.ObservationEvent:
		if e.IsError {
			return 0.3
		}
		return 0.1
	case *types.ActionEvent:
		name := strings.ToLower(e.Name)
		switch {
		case containsAny(name, []string{"cmd", "run", "execute"}):
			return 0.25
		case containsAny(name, []string{"edit", "create", "write"}):
			return 0.3
		case containsAny(name, []string{"browse", "search"}):
			return 0.15
		default:
			return 0.2
		}
	default:
		return 0.15
	}
}

// contentScore awards additive keyword bonuses, each at most once, adjusted
// by the length factor and capped at 0.5.
func (s *Scorer) contentScore(ev types.Event) float64 {
	content := types.EventText(ev)
	if content == "" {
		return 0.0
	}

	lower := strings.ToLower(content)
	score := 0.0

	if containsAny(lower, s.policy.Error) {
		score += 0.3
	}
	if containsAny(lower, s.policy.Success) {
		score += 0.2
	}
	if containsAny(lower, s.policy.UserInstruction) {
		score += 0.4
	}
	if containsAny(lower, s.policy.ImportantOperation) {
		score += 0.25
	}
	if numberPattern.MatchString(content) || filePathPattern.MatchString(content) {
		score += 0.1
	}

	score *= lengthFactor(content)
	if score > 0.5 {
		score = 0.5
	}
	return score
}

// lengthFactor penalizes both stub content and log dumps.
func lengthFactor(content string) float64 {
	switch length := len(content); {
	case length < 10:
		return 0.5
	case length < 50:
		return 0.8
	case length < 500:
		return 1.0
	case length < 2000:
		return 0.9
	default:
		return 0.6
	}
}

// temporalScore boosts recent events. Events without a timestamp get no
// boost.
func (s *Scorer) temporalScore(ev types.Event) float64 {
	ts := ev.Timestamp()
	if ts.IsZero() {
		return 0.0
	}
	switch age := s.now().Sub(ts); {
	case age < time.Hour:
		return 0.1
	case age < 24*time.Hour:
		return 0.05
	default:
		return 0.0
	}
}

// TaskRelevance scores how related an event is to the current task
// description, in [0, 0.3]. It is a keyword-overlap measure: each
// stop-word-filtered task token (length ≥ 3) found in the event content
// adds 0.1.
func (s *Scorer) TaskRelevance(ev types.Event, task string) float64 {
	if task == "" {
		return 0.0
	}
	content := types.EventText(ev)
	if content == "" {
		return 0.0
	}

	lower := strings.ToLower(content)
	matches := 0
	for _, keyword := range taskKeywords(task) {
		if strings.Contains(lower, keyword) {
			matches++
		}
	}
	score := float64(matches) * 0.1
	if score > 0.3 {
		score = 0.3
	}
	return score
}

// taskKeywords extracts the deduplicated, stop-word-filtered tokens of the
// task description.
func taskKeywords(task string) []string {
	words := wordPattern.FindAllString(strings.ToLower(task), -1)
	seen := make(map[string]bool, len(words))
	keywords := make([]string, 0, len(words))
	for _, word := range words {
		if taskStopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
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

// scoredEvent pairs an event with its importance for sorting.
type scoredEvent struct {
	event types.Event
	score float64
}

// rankAscending scores every event and returns them ordered from least to
// most important. The sort is stable so equal scores keep log order.
func (s *Scorer) rankAscending(events []types.Event) []scoredEvent {
	scored := make([]scoredEvent, len(events))
	for i, ev := range events {
		scored[i] = scoredEvent{event: ev, score: s.Score(ev)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score < scored[j].score
	})
	return scored
}
