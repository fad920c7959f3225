package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepAttempts tracks step invocations by outcome
	StepAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postforge_step_attempts_total",
			Help: "Total number of step invocations",
		},
		[]string{"step", "status"},
	)

	// StepErrors tracks failed step invocations by error kind
	StepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postforge_step_errors_total",
			Help: "Total number of failed step invocations",
		},
		[]string{"step", "error_type"},
	)

	// StepDuration tracks step invocation latency
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postforge_step_duration_seconds",
			Help:    "Step invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// RetryBackoff tracks scheduled backoff delays
	RetryBackoff = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postforge_retry_backoff_seconds",
			Help:    "Backoff delay scheduled before a retry",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"step"},
	)

	// BreakerTrips tracks circuit breaker trips
	BreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postforge_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
	)

	// BreakerFailures tracks the current consecutive failure count
	BreakerFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postforge_circuit_breaker_consecutive_failures",
			Help: "Consecutive retryable failures seen by the circuit breaker",
		},
	)

	// GenerationCalls tracks calls to the generation service
	GenerationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postforge_generation_calls_total",
			Help: "Total number of generation service calls",
		},
		[]string{"agent", "model"},
	)

	// GenerationCost tracks spend on the generation service
	GenerationCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postforge_generation_cost_usd_total",
			Help: "Total generation cost in USD",
		},
		[]string{"agent", "model"},
	)

	// BudgetRejections tracks calls refused by the budget guard
	BudgetRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postforge_budget_rejections_total",
			Help: "Total number of calls rejected before execution by the budget guard",
		},
	)

	// Runs tracks finished runs by status
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postforge_runs_total",
			Help: "Total number of finished runs",
		},
		[]string{"status"},
	)

	// Fallbacks tracks fallback proposals by reason and decision
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postforge_fallbacks_total",
			Help: "Total number of fallback proposals",
		},
		[]string{"reason", "approved"},
	)

	// ShorteningIterations tracks how many draft iterations a run needed
	ShorteningIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postforge_shortening_iterations",
			Help:    "Draft and review iterations needed to meet the character limit",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// TopicSubstitutions tracks replacement topics requested after research failures
	TopicSubstitutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postforge_topic_substitutions_total",
			Help: "Total number of topic substitutions",
		},
	)
)
