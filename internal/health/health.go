// Package health reports the state of the active pipeline run over HTTP.
package health

import (
	"github.com/vietddude/postforge/internal/execution/budget"
	"github.com/vietddude/postforge/internal/execution/retry"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
	StatusIdle     SystemStatus = "idle"
)

// RunSnapshot is a point-in-time view of a run.
type RunSnapshot struct {
	RunID       string             `json:"run_id"`
	CurrentStep string             `json:"current_step"`
	RunStatus   string             `json:"run_status"`
	Breaker     retry.BreakerState `json:"circuit_breaker"`
	Cost        budget.Summary     `json:"cost"`
}

// HealthReport contains the full health report.
type HealthReport struct {
	SystemStatus SystemStatus `json:"system_status"`
	Run          *RunSnapshot `json:"run,omitempty"`
	Reasons      []string     `json:"reasons,omitempty"`
}
