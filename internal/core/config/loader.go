package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/postforge/internal/execution/budget"
	"github.com/vietddude/postforge/internal/execution/retry"
	"github.com/vietddude/postforge/internal/infra/generation"
	"github.com/vietddude/postforge/internal/infra/storage"
	"github.com/vietddude/postforge/internal/infra/storage/sqlstore"
)

const (
	DefaultOutputDir        = "runs"
	DefaultEventLog         = "events.jsonl"
	DefaultTextModel        = "gemini-2.5-pro"
	DefaultImageModel       = "gemini-2.5-flash-image"
	DefaultTemperature      = 0.7
	DefaultMaxChars         = 3000
	DefaultTargetChars      = 2950
	DefaultMaxIterations    = 3
	DefaultMaxSubstitutions = 2
	DefaultTopicsDSN        = "data/topics.db"
)

// DefaultBlacklist lists phrases that must never appear in a post.
var DefaultBlacklist = []string{"Tech Audience Accelerator"}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.Pipeline.Category = storage.CategoryDataScience
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *AppConfig) {
	p := &cfg.Pipeline
	if p.OutputDir == "" {
		p.OutputDir = DefaultOutputDir
	}
	if p.EventLog == "" {
		p.EventLog = DefaultEventLog
	}
	if p.TextModel == "" {
		p.TextModel = DefaultTextModel
	}
	if p.ImageModel == "" {
		p.ImageModel = DefaultImageModel
	}
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = generation.ProviderGemini
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 120 * time.Second
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = retry.DefaultPolicy.MaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = retry.DefaultPolicy.BaseDelay
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = retry.DefaultMaxFailures
	}

	b := &cfg.Budget
	if b.MaxCostUSD == 0 {
		b.MaxCostUSD = budget.DefaultMaxCostUSD
	}
	if b.MaxCalls == 0 {
		b.MaxCalls = budget.DefaultMaxCalls
	}
	if b.EstimatedOutputTokens == 0 {
		b.EstimatedOutputTokens = budget.DefaultEstimatedOutputTokens
	}
	if b.WarnThresholdUSD == 0 {
		b.WarnThresholdUSD = budget.DefaultWarnThresholdUSD
	}

	q := &cfg.Quality
	if q.MaxChars == 0 {
		q.MaxChars = DefaultMaxChars
	}
	if q.TargetChars == 0 {
		q.TargetChars = DefaultTargetChars
	}
	if q.MaxIterations == 0 {
		q.MaxIterations = DefaultMaxIterations
	}
	if q.BlacklistedPhrases == nil {
		q.BlacklistedPhrases = append([]string(nil), DefaultBlacklist...)
	}

	if cfg.Fallback.Mode == "" {
		cfg.Fallback.Mode = FallbackModePrompt
	}

	if cfg.Topics.Driver == "" {
		cfg.Topics.Driver = sqlstore.DriverSQLite
	}
	if cfg.Topics.Driver == sqlstore.DriverSQLite && cfg.Topics.DSN == "" {
		cfg.Topics.DSN = DefaultTopicsDSN
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// PriceTable merges configured price overrides over the defaults.
func (c *AppConfig) PriceTable() budget.PriceTable {
	prices := budget.DefaultPrices()
	for model, p := range c.Budget.Prices {
		prices[model] = p
	}
	return prices
}

// ValidationError names one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks the configuration and returns every problem found.
func (c *AppConfig) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !isAllowedCategory(c.Pipeline.Category) {
		add("pipeline.category", "must be one of: %s", strings.Join(storage.AllowedCategories, ", "))
	}
	if c.Pipeline.Temperature < 0 || c.Pipeline.Temperature > 2 {
		add("pipeline.temperature", "must be between 0 and 2, got %v", c.Pipeline.Temperature)
	}
	if c.Pipeline.Retention < 0 {
		add("pipeline.retention", "must not be negative")
	}

	switch c.Generation.Provider {
	case generation.ProviderGemini:
		if !c.Pipeline.DryRun && c.Generation.APIKey == "" {
			add("generation.api_key", "required unless dry_run is set")
		}
	case generation.ProviderOffline:
	default:
		add("generation.provider", "unknown provider %q", c.Generation.Provider)
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts", "must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		add("retry.base_delay", "must not be negative")
	}
	if c.Breaker.MaxFailures < 1 {
		add("breaker.max_failures", "must be at least 1")
	}

	if c.Budget.MaxCostUSD <= 0 {
		add("budget.max_cost_usd", "must be positive")
	}
	if c.Budget.MaxCalls < 1 {
		add("budget.max_calls", "must be at least 1")
	}

	if c.Quality.TargetChars >= c.Quality.MaxChars {
		add("quality.target_chars", "must be below max_chars (%d)", c.Quality.MaxChars)
	}
	if c.Quality.MaxIterations < 1 {
		add("quality.max_iterations", "must be at least 1")
	}
	if c.Substitution.Limit() < 0 {
		add("substitution.max_substitutions", "must not be negative")
	}

	switch c.Fallback.Mode {
	case FallbackModePrompt, FallbackModeApprove, FallbackModeDecline:
	default:
		add("fallback.mode", "must be prompt, approve or decline, got %q", c.Fallback.Mode)
	}

	switch c.Topics.Driver {
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		if c.Topics.DSN == "" {
			add("topics.dsn", "required for driver %s", c.Topics.Driver)
		}
	case TopicsDriverMemory:
	default:
		add("topics.driver", "unknown driver %q", c.Topics.Driver)
	}

	if c.ObjectStore.Enabled() {
		if err := c.ObjectStore.Validate(); err != nil {
			add("objectstore", "%v", err)
		}
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		add("metrics.port", "out of range: %d", c.Metrics.Port)
	}

	return errs
}

func isAllowedCategory(category string) bool {
	for _, c := range storage.AllowedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Sample is the annotated configuration written by "config init".
const Sample = `# postforge configuration
pipeline:
  category: "Data Science (Optimizations & Time-Series Analysis)"
  output_dir: runs
  event_log: events.jsonl
  dry_run: false
  text_model: gemini-2.5-pro
  image_model: gemini-2.5-flash-image
  retention: 720h

generation:
  provider: gemini
  api_key: ${GEMINI_API_KEY}
  timeout: 120s

retry:
  max_attempts: 3
  base_delay: 1s

breaker:
  max_failures: 3

budget:
  max_cost_usd: 3.00
  max_calls: 25
  warn_threshold_usd: 0.50

quality:
  max_chars: 3000
  target_chars: 2950
  max_iterations: 3
  fallback_template: true

substitution:
  max_substitutions: 2

fallback:
  mode: prompt # prompt, approve, decline

topics:
  driver: sqlite # sqlite, postgres, memory
  dsn: data/topics.db
  seed: true

redis:
  url: ${REDIS_URL}

objectstore:
  endpoint: ${MINIO_ENDPOINT}
  access_key: ${MINIO_ACCESS_KEY}
  secret_key: ${MINIO_SECRET_KEY}
  bucket: postforge-runs

metrics:
  port: 0

logging:
  level: info
`
