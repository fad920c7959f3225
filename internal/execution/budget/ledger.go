// Package budget guards spending on the generation service.
//
// This package contains:
//   - Ledger: run-scoped cost and call accounting with hard limits
//   - PriceTable: per-model pricing used to project and record costs
//   - EstimateRunCost: a pre-run projection for a whole pipeline
package budget

import (
	"log/slog"
	"sync"

	"github.com/vietddude/postforge/internal/core/domain"
)

const (
	DefaultMaxCostUSD            = 3.00
	DefaultMaxCalls              = 25
	DefaultEstimatedOutputTokens = 1000
	DefaultWarnThresholdUSD      = 0.50
)

// Limits are the hard maxima for one run.
type Limits struct {
	MaxCostUSD float64
	MaxCalls   int
}

// DefaultLimits returns the out-of-the-box limits.
func DefaultLimits() Limits {
	return Limits{MaxCostUSD: DefaultMaxCostUSD, MaxCalls: DefaultMaxCalls}
}

// Summary is a snapshot of the ledger.
type Summary struct {
	TotalCostUSD       float64            `json:"total_cost_usd"`
	TotalCalls         int                `json:"api_call_count"`
	CostsByAgent       map[string]float64 `json:"costs_by_agent"`
	CallsByAgent       map[string]int     `json:"calls_by_agent"`
	MaxCostUSD         float64            `json:"max_cost_usd"`
	MaxCalls           int                `json:"max_api_calls"`
	BudgetRemainingUSD float64            `json:"budget_remaining_usd"`
	CallsRemaining     int                `json:"calls_remaining"`
}

// Ledger tracks spend for a single run. Over-budget calls are rejected
// before they are made.
type Ledger struct {
	mu           sync.Mutex
	limits       Limits
	prices       PriceTable
	totalCost    float64
	calls        int
	costByAgent  map[string]float64
	callsByAgent map[string]int
	warned       bool
	logger       *slog.Logger
}

// NewLedger creates an empty ledger. A nil price table uses DefaultPrices.
func NewLedger(limits Limits, prices PriceTable) *Ledger {
	if limits.MaxCostUSD <= 0 {
		limits.MaxCostUSD = DefaultMaxCostUSD
	}
	if limits.MaxCalls <= 0 {
		limits.MaxCalls = DefaultMaxCalls
	}
	if prices == nil {
		prices = DefaultPrices()
	}
	return &Ledger{
		limits:       limits,
		prices:       prices,
		costByAgent:  make(map[string]float64),
		callsByAgent: make(map[string]int),
		logger:       slog.Default(),
	}
}

// SetLogger replaces the logger used for cost warnings.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// CheckBudget rejects a call that would exceed either limit. It never
// commits anything.
func (l *Ledger) CheckBudget(model string, inputTokens, estimatedOutputTokens int) error {
	if estimatedOutputTokens <= 0 {
		estimatedOutputTokens = DefaultEstimatedOutputTokens
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.calls >= l.limits.MaxCalls {
		return domain.NewValidation("maximum API calls (%d) exceeded: current count %d", l.limits.MaxCalls, l.calls)
	}

	projected := l.prices.Lookup(model).Cost(inputTokens, estimatedOutputTokens)
	if total := l.totalCost + projected; total > l.limits.MaxCostUSD {
		return domain.NewValidation(
			"maximum cost ($%.2f) would be exceeded: current $%.4f, projected $%.4f (input_tokens=%d, output_tokens=%d)",
			l.limits.MaxCostUSD, l.totalCost, total, inputTokens, estimatedOutputTokens,
		)
	}
	return nil
}

// RecordCall prices a completed call from its real usage, re-validates the
// limits and commits it. It returns the cost of the call.
func (l *Ledger) RecordCall(model string, usage domain.Usage, agent string) (float64, error) {
	cost := l.prices.Lookup(model).Cost(usage.InputTokens, usage.OutputTokens)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.calls+1 > l.limits.MaxCalls {
		return 0, domain.NewValidation("maximum API calls (%d) exceeded", l.limits.MaxCalls)
	}
	if total := l.totalCost + cost; total > l.limits.MaxCostUSD {
		return 0, domain.NewValidation("maximum cost ($%.2f) exceeded: total would be $%.4f", l.limits.MaxCostUSD, total)
	}

	l.calls++
	l.totalCost += cost
	l.costByAgent[agent] += cost
	l.callsByAgent[agent]++
	return cost, nil
}

// WarnIfHigh logs once when the running total reaches threshold.
func (l *Ledger) WarnIfHigh(threshold float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.warned || threshold <= 0 || l.totalCost < threshold {
		return false
	}
	l.warned = true
	l.logger.Warn("Run cost is high",
		"total_usd", l.totalCost,
		"threshold_usd", threshold,
		"max_usd", l.limits.MaxCostUSD,
	)
	return true
}

func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	costs := make(map[string]float64, len(l.costByAgent))
	for k, v := range l.costByAgent {
		costs[k] = v
	}
	calls := make(map[string]int, len(l.callsByAgent))
	for k, v := range l.callsByAgent {
		calls[k] = v
	}

	return Summary{
		TotalCostUSD:       l.totalCost,
		TotalCalls:         l.calls,
		CostsByAgent:       costs,
		CallsByAgent:       calls,
		MaxCostUSD:         l.limits.MaxCostUSD,
		MaxCalls:           l.limits.MaxCalls,
		BudgetRemainingUSD: l.limits.MaxCostUSD - l.totalCost,
		CallsRemaining:     l.limits.MaxCalls - l.calls,
	}
}

// Estimate is a pre-run cost projection.
type Estimate struct {
	TextCalls    int     `json:"text_calls"`
	ImageCalls   int     `json:"image_calls"`
	TextCostUSD  float64 `json:"text_cost_usd"`
	ImageCostUSD float64 `json:"image_cost_usd"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	WithinBudget bool    `json:"within_budget"`
}

// EstimateRunCost projects the spend of a run from average token counts.
func EstimateRunCost(prices PriceTable, textModel, imageModel string, avgInput, avgOutput, textCalls, imageCalls int, limits Limits) Estimate {
	if prices == nil {
		prices = DefaultPrices()
	}
	text := float64(textCalls) * prices.Lookup(textModel).Cost(avgInput, avgOutput)
	image := float64(imageCalls) * prices.Lookup(imageModel).Cost(0, 0)
	total := text + image
	return Estimate{
		TextCalls:    textCalls,
		ImageCalls:   imageCalls,
		TextCostUSD:  text,
		ImageCostUSD: image,
		TotalCostUSD: total,
		WithinBudget: total <= limits.MaxCostUSD && textCalls+imageCalls <= limits.MaxCalls,
	}
}
