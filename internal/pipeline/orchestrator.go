// Package pipeline runs the post generation steps in order and owns the
// recovery policy around them.
//
// Every step goes through the retry executor and the run's circuit breaker.
// Every generation call is checked against the run's cost ledger first.
// Every step output is written atomically and verified before the next
// step starts.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/postforge/internal/core/config"
	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/execution/budget"
	"github.com/vietddude/postforge/internal/execution/fallback"
	"github.com/vietddude/postforge/internal/execution/retry"
	"github.com/vietddude/postforge/internal/health"
	"github.com/vietddude/postforge/internal/infra/artifact"
	"github.com/vietddude/postforge/internal/infra/eventlog"
	"github.com/vietddude/postforge/internal/infra/generation"
	"github.com/vietddude/postforge/internal/infra/storage"
	"github.com/vietddude/postforge/internal/metrics"
)

// Config holds the settings for a pipeline run.
type Config struct {
	Category    string
	OutputDir   string
	DryRun      bool
	TextModel   string
	ImageModel  string
	Temperature float64

	MaxAttempts int
	BaseDelay   time.Duration
	MaxFailures int

	Limits                budget.Limits
	Prices                budget.PriceTable
	EstimatedOutputTokens int
	WarnThresholdUSD      float64

	MaxChars         int
	TargetChars      int
	MaxIterations    int
	TemplateFallback bool
	Blacklist        []string

	MaxSubstitutions int
}

// ConfigFrom derives the pipeline settings from application config.
func ConfigFrom(app *config.AppConfig) Config {
	return Config{
		Category:              app.Pipeline.Category,
		OutputDir:             app.Pipeline.OutputDir,
		DryRun:                app.Pipeline.DryRun,
		TextModel:             app.Pipeline.TextModel,
		ImageModel:            app.Pipeline.ImageModel,
		Temperature:           app.Pipeline.Temperature,
		MaxAttempts:           app.Retry.MaxAttempts,
		BaseDelay:             app.Retry.BaseDelay,
		MaxFailures:           app.Breaker.MaxFailures,
		Limits:                budget.Limits{MaxCostUSD: app.Budget.MaxCostUSD, MaxCalls: app.Budget.MaxCalls},
		Prices:                app.PriceTable(),
		EstimatedOutputTokens: app.Budget.EstimatedOutputTokens,
		WarnThresholdUSD:      app.Budget.WarnThresholdUSD,
		MaxChars:              app.Quality.MaxChars,
		TargetChars:           app.Quality.TargetChars,
		MaxIterations:         app.Quality.MaxIterations,
		TemplateFallback:      app.Quality.TemplateEnabled(),
		Blacklist:             app.Quality.BlacklistedPhrases,
		MaxSubstitutions:      app.Substitution.Limit(),
	}
}

// ArtifactMirror copies a finished run directory elsewhere.
type ArtifactMirror interface {
	Upload(ctx context.Context, runID, dir string, names []string) error
}

// FailedRunIndex records aborted runs.
type FailedRunIndex interface {
	Add(ctx context.Context, fr domain.FailedRun) error
}

// Deps are the collaborators of the orchestrator. Generator and Topics are
// required; everything else is optional.
type Deps struct {
	Generator  generation.Generator
	Topics     storage.TopicRepository
	Events     *eventlog.Log
	Prompter   fallback.Prompter
	Mirror     ArtifactMirror
	FailedRuns FailedRunIndex
	Logger     *slog.Logger
	Now        func() time.Time
	// Sleep replaces the retry backoff wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs the pipeline. One Orchestrator may execute several runs
// in sequence; each run gets its own breaker, ledger and gate.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu     sync.Mutex
	active *runner
}

var _ health.SnapshotSource = (*Orchestrator)(nil)

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Generator == nil {
		return nil, errors.New("pipeline: generator is required")
	}
	if deps.Topics == nil {
		return nil, errors.New("pipeline: topic repository is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	applyDefaults(&cfg)

	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With("component", "Pipeline"),
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = config.DefaultOutputDir
	}
	if cfg.TextModel == "" {
		cfg.TextModel = config.DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = config.DefaultImageModel
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = retry.DefaultPolicy.MaxAttempts
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = retry.DefaultMaxFailures
	}
	if cfg.EstimatedOutputTokens < 1 {
		cfg.EstimatedOutputTokens = budget.DefaultEstimatedOutputTokens
	}
	if cfg.MaxChars < 1 {
		cfg.MaxChars = config.DefaultMaxChars
	}
	if cfg.TargetChars < 1 || cfg.TargetChars >= cfg.MaxChars {
		cfg.TargetChars = cfg.MaxChars - fallbackBuffer
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = config.DefaultMaxIterations
	}
	if cfg.MaxSubstitutions < 0 {
		cfg.MaxSubstitutions = 0
	}
}

// Run executes one pipeline run. It never panics on step failures; the
// outcome, including any error, is in the report.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	start := o.deps.Now()

	id, dir, err := artifact.CreateRunDir(o.cfg.OutputDir, start)
	if err != nil {
		de := domain.Wrap(domain.KindCorruption, err, "create run directory")
		o.log.Error("Run aborted before start", "error", de)
		metrics.Runs.WithLabelValues(string(domain.RunStatusFailed)).Inc()
		return &Report{
			Status: domain.RunStatusFailed,
			Error:  &ReportError{Type: de.Kind.String(), Message: de.Error()},
			Err:    de,
		}
	}

	r, err := o.newRunner(id, dir, start)
	if err != nil {
		de := retry.Classify(err)
		metrics.Runs.WithLabelValues(string(domain.RunStatusFailed)).Inc()
		return &Report{
			Status: domain.RunStatusFailed,
			RunID:  id,
			Dir:    dir,
			Error:  &ReportError{Type: de.Kind.String(), Message: de.Error()},
			Err:    de,
		}
	}

	o.mu.Lock()
	o.active = r
	o.mu.Unlock()

	r.log.Info("Run started", "dir", dir, "category", o.cfg.Category, "dry_run", o.cfg.DryRun)

	post, err := r.execute(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	return r.succeed(ctx, post)
}

// Snapshot reports the state of the current or most recent run.
func (o *Orchestrator) Snapshot() (health.RunSnapshot, bool) {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil {
		return health.RunSnapshot{}, false
	}
	return r.snapshot(), true
}

func (o *Orchestrator) newRunner(id, dir string, start time.Time) (*runner, error) {
	store := artifact.NewStore(dir)

	gate, err := fallback.NewGate(store.Path(artifact.FallbackLogFile), o.deps.Prompter)
	if err != nil {
		return nil, domain.Wrap(domain.KindCorruption, err, "open fallback audit log")
	}
	log := o.log.With("run_id", id)
	gate.SetLogger(log)

	ledger := budget.NewLedger(o.cfg.Limits, o.cfg.Prices)
	ledger.SetLogger(log)

	return &runner{
		cfg:     o.cfg,
		deps:    o.deps,
		log:     log,
		run:     domain.NewRun(id, dir, o.cfg.Category, o.cfg.DryRun, start),
		store:   store,
		breaker: retry.NewCircuitBreaker(o.cfg.MaxFailures),
		ledger:  ledger,
		gate:    gate,
	}, nil
}

// runner holds the state of a single run.
type runner struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	store   *artifact.Store
	breaker *retry.CircuitBreaker
	ledger  *budget.Ledger
	gate    *fallback.Gate

	mu         sync.Mutex
	run        *domain.Run
	failedStep string

	// Set by the generation helpers, consumed by the next observed attempt.
	lastModel string
	lastUsage *domain.Usage

	topic *domain.Topic
}

func (r *runner) snapshot() health.RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return health.RunSnapshot{
		RunID:       r.run.ID,
		CurrentStep: r.run.CurrentStep,
		RunStatus:   string(r.run.Status),
		Breaker:     r.breaker.State(),
		Cost:        r.ledger.Summary(),
	}
}

func (r *runner) setStep(step string) {
	r.mu.Lock()
	r.run.CurrentStep = step
	r.mu.Unlock()
}

// runStep executes fn under the retry policy and the run's breaker, and
// records one invocation per attempt.
func runStep[T any](ctx context.Context, r *runner, step string, fn func(context.Context) (T, error)) (T, error) {
	r.setStep(step)

	policy := retry.Policy{
		MaxAttempts: r.cfg.MaxAttempts,
		BaseDelay:   r.cfg.BaseDelay,
		Sleep:       r.deps.Sleep,
		Observe: func(a retry.Attempt) {
			r.observe(ctx, step, a)
		},
	}

	out, err := retry.Do(ctx, policy, r.breaker, fn)

	r.mu.Lock()
	if err != nil {
		r.failedStep = step
	} else {
		r.failedStep = ""
	}
	r.mu.Unlock()

	switch {
	case domain.IsKind(err, domain.KindCircuitOpen):
		metrics.BreakerTrips.Inc()
		r.log.Error("Circuit breaker tripped", "step", step, "error", err)
	case domain.IsFatal(err):
		r.log.Error("Step failed with unrecoverable error", "step", step, "error_type", domain.KindOf(err), "error", err)
	}
	return out, err
}

func (r *runner) observe(ctx context.Context, step string, a retry.Attempt) {
	inv := domain.StepInvocation{
		RunID:    r.run.ID,
		Step:     step,
		Attempt:  a.Number,
		Status:   domain.StepStatusOK,
		Duration: a.Duration,
		Model:    r.lastModel,
	}
	if r.lastUsage != nil {
		inv.TokenUsage = map[string]int{
			"input_tokens":  r.lastUsage.InputTokens,
			"output_tokens": r.lastUsage.OutputTokens,
		}
	}
	r.lastModel, r.lastUsage = "", nil

	if a.Err != nil {
		inv.Status = domain.StepStatusError
		inv.ErrorKind = a.Err.Kind.String()
		metrics.StepErrors.WithLabelValues(step, inv.ErrorKind).Inc()
		if a.Delay > 0 {
			metrics.RetryBackoff.WithLabelValues(step).Observe(a.Delay.Seconds())
			r.log.Warn("Step failed, retrying", "step", step, "attempt", a.Number, "delay", a.Delay, "error", a.Err)
		} else {
			r.log.Warn("Step failed", "step", step, "attempt", a.Number, "error_type", inv.ErrorKind, "error", a.Err)
		}
	} else {
		r.log.Debug("Step succeeded", "step", step, "attempt", a.Number, "duration", a.Duration)
	}

	metrics.StepAttempts.WithLabelValues(step, string(inv.Status)).Inc()
	metrics.StepDuration.WithLabelValues(step).Observe(a.Duration.Seconds())
	metrics.BreakerFailures.Set(float64(r.breaker.State().ConsecutiveFailures))

	r.mu.Lock()
	r.run.Observe(inv)
	r.mu.Unlock()
	r.emit(ctx, inv)
}

// event records an informational invocation that is not a step attempt.
func (r *runner) event(ctx context.Context, step string, attempt int, status domain.StepStatus, kind string, usage map[string]int) {
	r.emit(ctx, domain.StepInvocation{
		RunID:      r.run.ID,
		Step:       step,
		Attempt:    attempt,
		Status:     status,
		ErrorKind:  kind,
		TokenUsage: usage,
	})
}

func (r *runner) emit(ctx context.Context, inv domain.StepInvocation) {
	if r.deps.Events == nil {
		return
	}
	if err := r.deps.Events.Record(ctx, inv); err != nil {
		r.log.Warn("Failed to record event", "step", inv.Step, "error", err)
	}
}

// generateText makes one budget-checked text generation call.
func (r *runner) generateText(ctx context.Context, agent string, req generation.TextRequest) (string, error) {
	if req.Model == "" {
		req.Model = r.cfg.TextModel
	}
	if req.Temperature == 0 {
		req.Temperature = r.cfg.Temperature
	}

	in := budget.EstimateTokens(req.SystemInstruction + req.Prompt)
	if err := r.ledger.CheckBudget(req.Model, in, r.cfg.EstimatedOutputTokens); err != nil {
		metrics.BudgetRejections.Inc()
		return "", err
	}

	r.lastModel = req.Model
	res, err := r.deps.Generator.GenerateText(ctx, req)
	if err != nil {
		return "", err
	}
	if err := r.charge(agent, req.Model, res.Usage); err != nil {
		return "", err
	}
	return res.Text, nil
}

// generateImage makes one budget-checked image generation call.
func (r *runner) generateImage(ctx context.Context, agent string, req generation.ImageRequest) (generation.ImageResult, error) {
	if req.Model == "" {
		req.Model = r.cfg.ImageModel
	}
	if err := r.ledger.CheckBudget(req.Model, budget.EstimateTokens(req.Prompt), 0); err != nil {
		metrics.BudgetRejections.Inc()
		return generation.ImageResult{}, err
	}

	r.lastModel = req.Model
	res, err := r.deps.Generator.GenerateImage(ctx, req)
	if err != nil {
		return res, err
	}
	if err := r.charge(agent, req.Model, res.Usage); err != nil {
		return generation.ImageResult{}, err
	}
	return res, nil
}

func (r *runner) charge(agent, model string, usage domain.Usage) error {
	r.lastUsage = &usage
	cost, err := r.ledger.RecordCall(model, usage, agent)
	if err != nil {
		metrics.BudgetRejections.Inc()
		return err
	}
	metrics.GenerationCalls.WithLabelValues(agent, model).Inc()
	metrics.GenerationCost.WithLabelValues(agent, model).Add(cost)
	r.ledger.WarnIfHigh(r.cfg.WarnThresholdUSD)
	return nil
}
