// Package eventlog records every step invocation to the global JSON-lines
// event log and mirrors it to optional sinks.
package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/infra/jsonl"
)

// Sink receives a copy of every recorded invocation.
type Sink interface {
	Publish(ctx context.Context, inv domain.StepInvocation) error
}

// Log is the append-only event log shared by all runs.
type Log struct {
	appender *jsonl.Appender
	sinks    []Sink
	logger   *slog.Logger
	now      func() time.Time
}

// Open prepares the log at path. The file is created on first append.
func Open(path string, sinks ...Sink) (*Log, error) {
	a, err := jsonl.NewAppender(path)
	if err != nil {
		return nil, err
	}
	return &Log{
		appender: a,
		sinks:    sinks,
		logger:   slog.Default(),
		now:      time.Now,
	}, nil
}

func (l *Log) Path() string {
	return l.appender.Path()
}

// Record appends inv to the file and publishes it to every sink. Sink
// failures are logged and never fail the step.
func (l *Log) Record(ctx context.Context, inv domain.StepInvocation) error {
	if inv.Timestamp.IsZero() {
		inv.Timestamp = l.now().UTC()
	}
	if inv.DurationMs == 0 && inv.Duration > 0 {
		inv.DurationMs = inv.Duration.Milliseconds()
	}

	if err := l.appender.Append(inv); err != nil {
		return err
	}

	for _, s := range l.sinks {
		if err := s.Publish(ctx, inv); err != nil {
			l.logger.Warn("Failed to mirror event", "step", inv.Step, "run_id", inv.RunID, "error", err)
		}
	}
	return nil
}

// Read returns the invocations in the log at path, optionally filtered to one run.
func Read(path, runID string) ([]domain.StepInvocation, error) {
	var out []domain.StepInvocation
	err := jsonl.ReadAll(path, func(line []byte) error {
		var inv domain.StepInvocation
		if err := json.Unmarshal(line, &inv); err != nil {
			return err
		}
		if runID == "" || inv.RunID == runID {
			out = append(out, inv)
		}
		return nil
	})
	return out, err
}
