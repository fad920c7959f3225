package domain

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// StepStatus is the outcome of one step attempt.
type StepStatus string

const (
	StepStatusOK    StepStatus = "ok"
	StepStatusError StepStatus = "error"
	StepStatusInfo  StepStatus = "info"
)

// Usage is the token consumption reported by the generation service.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StepInvocation records one attempt of one step. It is never mutated.
type StepInvocation struct {
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"run_id"`
	Step       string         `json:"step"`
	Attempt    int            `json:"attempt"`
	Status     StepStatus     `json:"status"`
	ErrorKind  string         `json:"error_type,omitempty"`
	Duration   time.Duration  `json:"-"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Model      string         `json:"model,omitempty"`
	TokenUsage map[string]int `json:"token_usage,omitempty"`
}

// StepMetrics summarises all attempts of a step within a Run.
type StepMetrics struct {
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"duration_ms"`
	LastError  string `json:"last_error,omitempty"`
}

// RunMetrics is the metrics block written into run reports.
type RunMetrics struct {
	StartTime            time.Time              `json:"start_time"`
	EndTime              time.Time              `json:"end_time,omitempty"`
	DurationSeconds      float64                `json:"duration_seconds,omitempty"`
	Agents               map[string]StepMetrics `json:"agent_metrics"`
	ShorteningIterations int                    `json:"char_loop_iterations"`
	TopicSubstitutions   int                    `json:"topic_pivots"`
}

// Run is one end-to-end pipeline execution.
type Run struct {
	ID          string
	Dir         string
	Category    string
	DryRun      bool
	Status      RunStatus
	CurrentStep string
	Metrics     RunMetrics
}

// NewRun creates a Run in the running state.
func NewRun(id, dir, category string, dryRun bool, now time.Time) *Run {
	return &Run{
		ID:       id,
		Dir:      dir,
		Category: category,
		DryRun:   dryRun,
		Status:   RunStatusRunning,
		Metrics: RunMetrics{
			StartTime: now,
			Agents:    make(map[string]StepMetrics),
		},
	}
}

// Observe folds one invocation into the step metrics.
func (r *Run) Observe(inv StepInvocation) {
	m := r.Metrics.Agents[inv.Step]
	m.Attempts++
	m.DurationMs += inv.Duration.Milliseconds()
	if inv.Status == StepStatusOK {
		m.Status = "success"
		m.LastError = ""
	} else {
		m.Status = "failed"
		m.LastError = inv.ErrorKind
	}
	r.Metrics.Agents[inv.Step] = m
}

// Finish stamps the end time and final status.
func (r *Run) Finish(status RunStatus, now time.Time) {
	r.Status = status
	r.Metrics.EndTime = now
	r.Metrics.DurationSeconds = now.Sub(r.Metrics.StartTime).Seconds()
}

// Topic is a candidate subject for a post.
type Topic struct {
	ID       int64  `json:"id,omitempty" db:"id"`
	Name     string `json:"topic" db:"topic_name"`
	Category string `json:"field" db:"field"`
	Source   string `json:"source"`
}

const (
	TopicSourceDatabase  = "database"
	TopicSourceGenerated = "generated"
)

// FailedRun indexes an aborted run for later inspection.
type FailedRun struct {
	RunID      string    `json:"run_id"`
	Dir        string    `json:"run_path"`
	ErrorKind  string    `json:"error_type"`
	Message    string    `json:"error_message"`
	FailedStep string    `json:"failed_step,omitempty"`
	FailedAt   time.Time `json:"failed_at"`
}
