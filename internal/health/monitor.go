package health

import (
	"context"
	"fmt"
)

// lowBudgetRatio marks a run degraded once less than this share of the budget remains.
const lowBudgetRatio = 0.2

// SnapshotSource exposes the active run, if any.
type SnapshotSource interface {
	Snapshot() (RunSnapshot, bool)
}

// Monitor derives health from the active run.
type Monitor struct {
	source SnapshotSource
}

// NewMonitor creates a new health monitor.
func NewMonitor(source SnapshotSource) *Monitor {
	return &Monitor{source: source}
}

// CheckHealth evaluates the active run. Worst condition wins.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	snap, ok := m.source.Snapshot()
	if !ok {
		return HealthReport{SystemStatus: StatusIdle}
	}

	report := HealthReport{SystemStatus: StatusHealthy, Run: &snap}

	if snap.Breaker.Tripped {
		report.SystemStatus = StatusCritical
		report.Reasons = append(report.Reasons, fmt.Sprintf("circuit breaker tripped after %d failures", snap.Breaker.ConsecutiveFailures))
	} else if snap.Breaker.ConsecutiveFailures > 0 {
		report.SystemStatus = StatusDegraded
		report.Reasons = append(report.Reasons, fmt.Sprintf("%d consecutive failures", snap.Breaker.ConsecutiveFailures))
	}

	if snap.Cost.MaxCostUSD > 0 && snap.Cost.BudgetRemainingUSD < snap.Cost.MaxCostUSD*lowBudgetRatio {
		if report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
		report.Reasons = append(report.Reasons, fmt.Sprintf("budget remaining $%.4f", snap.Cost.BudgetRemainingUSD))
	}
	if snap.Cost.MaxCalls > 0 && snap.Cost.CallsRemaining <= 0 {
		report.SystemStatus = StatusCritical
		report.Reasons = append(report.Reasons, "call budget exhausted")
	}

	if snap.RunStatus == "failed" {
		report.SystemStatus = StatusCritical
	}
	return report
}
