package condenser

import "fmt"

// Config controls when condensation triggers and how aggressively it
// compresses. Invalid combinations are rejected at construction time by
// Validate; they are never clamped or deferred to condensation time.
type Config struct {
	// MaxSize is the view length above which condensation triggers.
	MaxSize int

	// KeepFirst is the number of leading events that are never forgotten
	// (typically the system prompt and initial task). Must be less than
	// half of MaxSize.
	KeepFirst int

	// MaxCompressionRatio is the fraction of MaxSize the view is reduced
	// toward, in (0, 1].
	MaxCompressionRatio float64

	// MaxEventLength caps how many characters of a single event are fed
	// into the compression prompt.
	MaxEventLength int

	// EnableSemanticAnalysis selects importance-scored forgetting. When
	// false, every candidate event in the compression window is
	// forgotten.
	EnableSemanticAnalysis bool
}

// DefaultConfig returns the defaults used by agent sessions.
func DefaultConfig() Config {
	return Config{
		MaxSize:                100,
		KeepFirst:              1,
		MaxCompressionRatio:    0.3,
		MaxEventLength:         8000,
		EnableSemanticAnalysis: true,
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("max_size (%d) must be positive", c.MaxSize)
	}
	if c.KeepFirst < 0 {
		return fmt.Errorf("keep_first (%d) must not be negative", c.KeepFirst)
	}
	if c.KeepFirst >= c.MaxSize/2 {
		return fmt.Errorf("keep_first (%d) must be less than half of max_size (%d)", c.KeepFirst, c.MaxSize)
	}
	if c.MaxCompressionRatio <= 0 || c.MaxCompressionRatio > 1 {
		return fmt.Errorf("max_compression_ratio (%v) must be between 0 and 1", c.MaxCompressionRatio)
	}
	if c.MaxEventLength <= 0 {
		return fmt.Errorf("max_event_length (%d) must be positive", c.MaxEventLength)
	}
	return nil
}
