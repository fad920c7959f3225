package pipeline

import (
	"context"
	"time"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/execution/budget"
	"github.com/vietddude/postforge/internal/execution/fallback"
	"github.com/vietddude/postforge/internal/execution/retry"
	"github.com/vietddude/postforge/internal/infra/artifact"
	"github.com/vietddude/postforge/internal/metrics"
)

// Report is the outcome of a run.
type Report struct {
	Status          domain.RunStatus  `json:"status"`
	RunID           string            `json:"run_id"`
	Dir             string            `json:"run_path"`
	Topic           string            `json:"topic,omitempty"`
	Artifacts       map[string]string `json:"artifacts,omitempty"`
	Metrics         domain.RunMetrics `json:"metrics"`
	Cost            budget.Summary    `json:"cost"`
	Fallbacks       fallback.Summary  `json:"fallbacks"`
	FallbackReport  string            `json:"fallback_report,omitempty"`
	Error           *ReportError      `json:"error,omitempty"`
	FailureArtifact string            `json:"failure_artifact,omitempty"`

	// Err is the terminal error of a failed run.
	Err error `json:"-"`
}

// ReportError describes why a run failed.
type ReportError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FailureReport is written to run_failed.json when a run aborts.
type FailureReport struct {
	Timestamp    time.Time          `json:"timestamp"`
	RunID        string             `json:"run_id"`
	ErrorType    string             `json:"error_type"`
	ErrorMessage string             `json:"error_message"`
	FailedStep   string             `json:"failed_step,omitempty"`
	// Retryable is set when rerunning the pipeline may succeed.
	Retryable    bool               `json:"retryable"`
	Breaker      retry.BreakerState `json:"circuit_breaker_state"`
	Metrics      domain.RunMetrics  `json:"metrics"`
	Cost         budget.Summary     `json:"cost"`
	StackTrace   string             `json:"stack_trace,omitempty"`
}

func (r *runner) succeed(ctx context.Context, post string) *Report {
	ctx = context.WithoutCancel(ctx)
	now := r.deps.Now()

	if r.topic != nil {
		if err := r.deps.Topics.RecordPosted(ctx, r.topic.Name, now); err != nil {
			r.log.Warn("Failed to record posted topic", "topic", r.topic.Name, "error", err)
		}
	}

	r.mu.Lock()
	r.run.Finish(domain.RunStatusSuccess, now)
	r.run.CurrentStep = ""
	runMetrics := r.run.Metrics
	r.mu.Unlock()

	warnings := r.gate.Warnings()
	report := &Report{
		Status: domain.RunStatusSuccess,
		RunID:  r.run.ID,
		Dir:    r.run.Dir,
		Artifacts: map[string]string{
			"final_post":        r.store.Path(artifact.FinalPostFile),
			"final_post_record": r.store.Path(artifact.FinalPostRecordFile),
			"image":             r.store.Path(artifact.ImageFile),
		},
		Metrics:        runMetrics,
		Cost:           r.ledger.Summary(),
		Fallbacks:      fallback.Summarize(warnings),
		FallbackReport: fallback.Report(warnings),
	}
	if r.topic != nil {
		report.Topic = r.topic.Name
	}

	if _, err := r.store.WriteJSON(artifact.SummaryFile, report); err != nil {
		r.log.Error("Failed to write run summary", "error", err)
	}
	r.event(ctx, eventRunComplete, 1, domain.StepStatusOK, "", nil)
	metrics.Runs.WithLabelValues(string(domain.RunStatusSuccess)).Inc()

	r.mirror(ctx)
	r.log.Info("Run completed",
		"chars", CountChars(post),
		"cost_usd", report.Cost.TotalCostUSD,
		"calls", report.Cost.TotalCalls,
		"duration", time.Duration(runMetrics.DurationSeconds*float64(time.Second)).Round(time.Millisecond),
	)
	return report
}

func (r *runner) fail(ctx context.Context, cause error) *Report {
	ctx = context.WithoutCancel(ctx)
	now := r.deps.Now()
	de := retry.Classify(cause)

	r.mu.Lock()
	failedStep := r.failedStep
	if failedStep == "" {
		failedStep = r.run.CurrentStep
	}
	r.run.Finish(domain.RunStatusFailed, now)
	runMetrics := r.run.Metrics
	r.mu.Unlock()

	cost := r.ledger.Summary()
	failure := FailureReport{
		Timestamp:    now.UTC(),
		RunID:        r.run.ID,
		ErrorType:    de.Kind.String(),
		ErrorMessage: de.Error(),
		FailedStep:   failedStep,
		Retryable:    domain.IsRetryable(de),
		Breaker:      r.breaker.State(),
		Metrics:      runMetrics,
		Cost:         cost,
		StackTrace:   de.StackTrace(),
	}

	report := &Report{
		Status:    domain.RunStatusFailed,
		RunID:     r.run.ID,
		Dir:       r.run.Dir,
		Metrics:   runMetrics,
		Cost:      cost,
		Fallbacks: r.gate.Summary(),
		Error:     &ReportError{Type: de.Kind.String(), Message: de.Error()},
		Err:       de,
	}
	if r.topic != nil {
		report.Topic = r.topic.Name
	}

	if path, err := r.store.WriteJSON(artifact.FailureFile, failure); err != nil {
		r.log.Error("Failed to write failure report", "error", err)
	} else {
		report.FailureArtifact = path
	}

	r.event(ctx, eventRunFailed, 1, domain.StepStatusError, de.Kind.String(), nil)
	metrics.Runs.WithLabelValues(string(domain.RunStatusFailed)).Inc()

	if r.deps.FailedRuns != nil {
		fr := domain.FailedRun{
			RunID:      r.run.ID,
			Dir:        r.run.Dir,
			ErrorKind:  de.Kind.String(),
			Message:    de.Error(),
			FailedStep: failedStep,
			FailedAt:   now.UTC(),
		}
		if err := r.deps.FailedRuns.Add(ctx, fr); err != nil {
			r.log.Warn("Failed to index failed run", "error", err)
		}
	}

	r.mirror(ctx)
	r.log.Error("Run failed", "step", failedStep, "error_type", de.Kind.String(), "error", de.Error())
	return report
}

// mirror uploads the run directory when a mirror is configured. Upload
// failures never change the run outcome.
func (r *runner) mirror(ctx context.Context) {
	if r.deps.Mirror == nil {
		return
	}
	names, err := r.store.List()
	if err != nil {
		r.log.Warn("Failed to list artifacts for mirroring", "error", err)
		return
	}
	if err := r.deps.Mirror.Upload(ctx, r.run.ID, r.run.Dir, names); err != nil {
		r.log.Warn("Failed to mirror artifacts", "error", err)
		return
	}
	r.log.Debug("Artifacts mirrored", "count", len(names))
}
