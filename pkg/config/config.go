// Package config loads and validates anvil configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/entrhq/anvil/pkg/condenser"
	"github.com/entrhq/anvil/pkg/retry"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as strings
// like "5s" or "2m30s".
type Duration time.Duration

// UnmarshalYAML parses the duration from its YAML string form.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LLMSection configures the provider connection.
type LLMSection struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// CondenserSection configures the condensation policy.
type CondenserSection struct {
	MaxSize                int     `yaml:"max_size"`
	KeepFirst              int     `yaml:"keep_first"`
	MaxCompressionRatio    float64 `yaml:"max_compression_ratio"`
	MaxEventLength         int     `yaml:"max_event_length"`
	EnableSemanticAnalysis bool    `yaml:"enable_semantic_analysis"`
}

// RetrySection configures the retry policy.
type RetrySection struct {
	NumRetries      int      `yaml:"num_retries"`
	RetryMinWait    Duration `yaml:"retry_min_wait"`
	RetryMaxWait    Duration `yaml:"retry_max_wait"`
	RetryMultiplier float64  `yaml:"retry_multiplier"`
}

// Config is the full anvil configuration.
type Config struct {
	LLM       LLMSection       `yaml:"llm"`
	Condenser CondenserSection `yaml:"condenser"`
	Retry     RetrySection     `yaml:"retry"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	cond := condenser.DefaultConfig()
	ret := retry.DefaultConfig()
	return &Config{
		LLM: LLMSection{Model: "gpt-4o"},
		Condenser: CondenserSection{
			MaxSize:                cond.MaxSize,
			KeepFirst:              cond.KeepFirst,
			MaxCompressionRatio:    cond.MaxCompressionRatio,
			MaxEventLength:         cond.MaxEventLength,
			EnableSemanticAnalysis: cond.EnableSemanticAnalysis,
		},
		Retry: RetrySection{
			NumRetries:      ret.NumRetries,
			RetryMinWait:    Duration(ret.MinWait),
			RetryMaxWait:    Duration(ret.MaxWait),
			RetryMultiplier: ret.Multiplier,
		},
	}
}

// Load reads a YAML config file, layering it over the defaults, and
// validates the result. Invalid combinations are reported here, never at
// condensation or retry time.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section's invariants.
func (c *Config) Validate() error {
	if err := c.CondenserConfig().Validate(); err != nil {
		return fmt.Errorf("condenser: %w", err)
	}
	if err := c.RetryConfig().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// CondenserConfig converts the condenser section to the policy config.
func (c *Config) CondenserConfig() condenser.Config {
	return condenser.Config{
		MaxSize:                c.Condenser.MaxSize,
		KeepFirst:              c.Condenser.KeepFirst,
		MaxCompressionRatio:    c.Condenser.MaxCompressionRatio,
		MaxEventLength:         c.Condenser.MaxEventLength,
		EnableSemanticAnalysis: c.Condenser.EnableSemanticAnalysis,
	}
}

// RetryConfig converts the retry section to the controller config,
// retaining the default retryable kind set.
func (c *Config) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.NumRetries = c.Retry.NumRetries
	cfg.MinWait = time.Duration(c.Retry.RetryMinWait)
	cfg.MaxWait = time.Duration(c.Retry.RetryMaxWait)
	cfg.Multiplier = c.Retry.RetryMultiplier
	return cfg
}
