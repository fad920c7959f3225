package config

import (
	"time"

	"github.com/vietddude/postforge/internal/execution/budget"
	"github.com/vietddude/postforge/internal/infra/generation"
	"github.com/vietddude/postforge/internal/infra/objectstore"
	redisclient "github.com/vietddude/postforge/internal/infra/redis"
	"github.com/vietddude/postforge/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Generation   generation.Config  `yaml:"generation"`
	Retry        RetryConfig        `yaml:"retry"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Budget       BudgetConfig       `yaml:"budget"`
	Quality      QualityConfig      `yaml:"quality"`
	Substitution SubstitutionConfig `yaml:"substitution"`
	Fallback     FallbackConfig     `yaml:"fallback"`
	Topics       TopicsConfig       `yaml:"topics"`
	Redis        redisclient.Config `yaml:"redis"`
	ObjectStore  objectstore.Config `yaml:"objectstore"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// PipelineConfig holds run-level settings.
type PipelineConfig struct {
	Category    string  `yaml:"category"`
	OutputDir   string  `yaml:"output_dir"`
	EventLog    string  `yaml:"event_log"`
	DryRun      bool    `yaml:"dry_run"`
	TextModel   string  `yaml:"text_model"`
	ImageModel  string  `yaml:"image_model"`
	Temperature float64 `yaml:"temperature"`
	// Retention removes run directories older than this; 0 keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// RetryConfig controls the per-step retry executor.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// BreakerConfig controls the run-wide circuit breaker.
type BreakerConfig struct {
	MaxFailures int `yaml:"max_failures"`
}

// BudgetConfig holds cost limits and optional price overrides.
type BudgetConfig struct {
	MaxCostUSD            float64                 `yaml:"max_cost_usd"`
	MaxCalls              int                     `yaml:"max_calls"`
	EstimatedOutputTokens int                     `yaml:"estimated_output_tokens"`
	WarnThresholdUSD      float64                 `yaml:"warn_threshold_usd"`
	Prices                map[string]budget.Price `yaml:"prices"`
}

// QualityConfig holds the post length limits.
type QualityConfig struct {
	MaxChars      int `yaml:"max_chars"`
	TargetChars   int `yaml:"target_chars"`
	MaxIterations int `yaml:"max_iterations"`

	// FallbackTemplate enables the deterministic template when the writer
	// cannot produce a post. Nil means enabled.
	FallbackTemplate   *bool    `yaml:"fallback_template"`
	BlacklistedPhrases []string `yaml:"blacklisted_phrases"`
}

// TemplateEnabled reports whether the fallback template may be offered.
func (q QualityConfig) TemplateEnabled() bool {
	return q.FallbackTemplate == nil || *q.FallbackTemplate
}

// SubstitutionConfig bounds topic substitution after failed research.
type SubstitutionConfig struct {
	// MaxSubstitutions is nil when unset; 0 disables substitution.
	MaxSubstitutions *int `yaml:"max_substitutions"`
}

// Limit returns the configured bound or the default.
func (s SubstitutionConfig) Limit() int {
	if s.MaxSubstitutions == nil {
		return DefaultMaxSubstitutions
	}
	return *s.MaxSubstitutions
}

// FallbackConfig selects how fallback approvals are answered.
type FallbackConfig struct {
	Mode string `yaml:"mode"` // prompt, approve, decline
}

// TopicsConfig selects the topic database.
type TopicsConfig struct {
	sqlstore.Config `yaml:",inline"`
	// Seed inserts the starter topics when the database is empty.
	Seed bool `yaml:"seed"`
}

// MetricsConfig holds the health and metrics server settings.
type MetricsConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

const (
	FallbackModePrompt  = "prompt"
	FallbackModeApprove = "approve"
	FallbackModeDecline = "decline"

	TopicsDriverMemory = "memory"
)
