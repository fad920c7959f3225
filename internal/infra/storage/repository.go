package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/postforge/internal/core/domain"
)

var (
	// ErrUnknownDriver is returned for an unsupported topics driver
	ErrUnknownDriver = errors.New("unknown topics driver")
)

// RecentWindow is how many recently posted topics are excluded from selection.
const RecentWindow = 10

// TopicRepository is the topic source consumed by the pipeline.
type TopicRepository interface {
	// SelectTopic returns the oldest candidate in category that was not among
	// the recent posts and is not excluded. It returns nil, nil when none qualifies.
	SelectTopic(ctx context.Context, category string, exclude []string) (*domain.Topic, error)

	// RecordPosted appends a topic to the posting history
	RecordPosted(ctx context.Context, topic string, at time.Time) error

	// RecentTopics returns the most recently posted topic names, newest first
	RecentTopics(ctx context.Context, limit int) ([]string, error)

	// AddCandidates inserts candidates, ignoring duplicates. It returns the number inserted
	AddCandidates(ctx context.Context, category string, names []string) (int, error)

	Close() error
}

const (
	CategoryDataScience = "Data Science (Optimizations & Time-Series Analysis)"
	CategoryGenAI       = "Generative AI & AI Agents"
)

// AllowedCategories are the categories a run may target.
var AllowedCategories = []string{CategoryDataScience, CategoryGenAI}

// SeedTopics are the starter candidates for a fresh topic database.
var SeedTopics = map[string][]string{
	CategoryDataScience: {
		"How to detect data leakage in time-series pipelines",
		"Feature engineering for irregular time-series",
		"Optimizing inference latency with ONNX Runtime",
		"Segmented ARIMA vs. Prophet: where each wins",
		"Causal impact vs. A/B: choosing the right test",
		"Hyperparameter search budgets: Bayesian vs. early-stopping",
		"Forecast error decomposition your CFO understands",
		"Building robust backtests for demand forecasting",
	},
	CategoryGenAI: {
		"RAG pitfalls: when retrieval silently fails",
		"Agent routing strategies that actually converge",
		"Guardrails: regex, CFGs, or vector policies?",
		"Evaluating LLM tools with function-calling traces",
		"Latency-aware chunking for streaming RAG",
		"LLM evals that predict business outcomes",
		"Stateful multi-agent memory designs",
		"From prompts to protocols: MCP in production",
	},
}

// Seed inserts SeedTopics into repo in a stable order.
func Seed(ctx context.Context, repo TopicRepository) (int, error) {
	total := 0
	for _, category := range AllowedCategories {
		n, err := repo.AddCandidates(ctx, category, SeedTopics[category])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Excluded merges the recent and explicitly excluded topic names.
func Excluded(recent, exclude []string) map[string]bool {
	m := make(map[string]bool, len(recent)+len(exclude))
	for _, n := range recent {
		m[n] = true
	}
	for _, n := range exclude {
		m[n] = true
	}
	return m
}
