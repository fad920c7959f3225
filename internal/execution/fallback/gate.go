// Package fallback gates degraded output behind explicit operator approval
// and keeps a durable audit trail of every proposal.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/infra/jsonl"
)

// Decision is the operator's answer to a fallback proposal.
type Decision int

const (
	DecisionDecline Decision = iota
	DecisionAccept
	DecisionDetail
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionDetail:
		return "detail"
	default:
		return "decline"
	}
}

// Prompter asks the operator about a fallback.
type Prompter interface {
	Ask(ctx context.Context, w domain.FallbackWarning) (Decision, error)
	ShowDetail(ctx context.Context, w domain.FallbackWarning, cause error) error
}

// Request describes a proposed fallback.
type Request struct {
	Agent     string
	Reason    domain.FallbackReason
	Step      string
	Objective string
	Err       error
}

// Gate records fallback proposals and applies operator decisions.
type Gate struct {
	audit    *jsonl.Appender
	prompter Prompter
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	warnings []domain.FallbackWarning
}

// NewGate writes its audit trail to auditPath.
func NewGate(auditPath string, prompter Prompter) (*Gate, error) {
	a, err := jsonl.NewAppender(auditPath)
	if err != nil {
		return nil, err
	}
	return &Gate{
		audit:    a,
		prompter: prompter,
		logger:   slog.Default(),
		now:      time.Now,
	}, nil
}

// SetLogger replaces the gate's logger.
func (g *Gate) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Request persists the warning, then asks the operator. It returns nil when
// the fallback is approved and the original error when it is declined.
func (g *Gate) Request(ctx context.Context, req Request) error {
	msg := ""
	if req.Err != nil {
		msg = req.Err.Error()
	}
	w := domain.FallbackWarning{
		ID:                uuid.NewString(),
		Agent:             req.Agent,
		Reason:            req.Reason,
		ErrorMessage:      msg,
		Step:              req.Step,
		OriginalObjective: req.Objective,
		Timestamp:         g.now().UTC(),
	}

	if err := g.audit.Append(w); err != nil {
		return domain.Wrap(domain.KindCorruption, err, "persist fallback warning")
	}
	g.remember(w)
	g.logger.Warn("Fallback requested", "agent", w.Agent, "reason", w.Reason, "step", w.Step, "error", msg)

	for {
		d, err := g.ask(ctx, w)
		if err != nil {
			g.logger.Warn("Fallback prompt failed, declining", "agent", w.Agent, "error", err)
			return g.decline(req)
		}

		switch d {
		case DecisionDetail:
			if err := g.prompter.ShowDetail(ctx, w, req.Err); err != nil {
				return g.decline(req)
			}
		case DecisionAccept:
			w.Approved = true
			if err := g.audit.Append(w); err != nil {
				return domain.Wrap(domain.KindCorruption, err, "persist fallback approval")
			}
			g.remember(w)
			g.logger.Info("Fallback approved", "agent", w.Agent, "reason", w.Reason)
			return nil
		default:
			return g.decline(req)
		}
	}
}

func (g *Gate) ask(ctx context.Context, w domain.FallbackWarning) (Decision, error) {
	if g.prompter == nil {
		return DecisionDecline, nil
	}
	return g.prompter.Ask(ctx, w)
}

func (g *Gate) decline(req Request) error {
	g.logger.Info("Fallback declined", "agent", req.Agent, "reason", req.Reason)
	if req.Err != nil {
		return req.Err
	}
	return domain.NewValidation("fallback for %s declined", req.Agent)
}

func (g *Gate) remember(w domain.FallbackWarning) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.warnings {
		if g.warnings[i].ID == w.ID {
			g.warnings[i] = w
			return
		}
	}
	g.warnings = append(g.warnings, w)
}

// Warnings returns the proposals made through this gate, in order.
func (g *Gate) Warnings() []domain.FallbackWarning {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.FallbackWarning(nil), g.warnings...)
}

// Summary counts the fallbacks of a run.
type Summary struct {
	Total    int                           `json:"total"`
	Approved int                           `json:"approved"`
	ByReason map[domain.FallbackReason]int `json:"by_reason"`
	ByAgent  map[string]int                `json:"by_agent"`
}

func (g *Gate) Summary() Summary {
	return Summarize(g.Warnings())
}

// Summarize counts warnings by reason and agent.
func Summarize(ws []domain.FallbackWarning) Summary {
	s := Summary{
		ByReason: make(map[domain.FallbackReason]int),
		ByAgent:  make(map[string]int),
	}
	for _, w := range ws {
		s.Total++
		if w.Approved {
			s.Approved++
		}
		s.ByReason[w.Reason]++
		s.ByAgent[w.Agent]++
	}
	return s
}

// Report renders a plain-text account of the fallbacks used in a run.
func Report(ws []domain.FallbackWarning) string {
	if len(ws) == 0 {
		return "No fallbacks were used in this run."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Fallbacks used: %d\n", len(ws))
	for i, w := range ws {
		status := "declined"
		if w.Approved {
			status = "approved"
		}
		fmt.Fprintf(&b, "%d. %s (%s) at %s: %s\n", i+1, w.Agent, w.Reason, w.Timestamp.Format(time.RFC3339), status)
		if w.ErrorMessage != "" {
			fmt.Fprintf(&b, "   error: %s\n", w.ErrorMessage)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// LoadWarnings reads an audit log, folding re-persisted records by ID so
// each warning appears once in its latest state.
func LoadWarnings(path string) ([]domain.FallbackWarning, error) {
	var order []string
	latest := make(map[string]domain.FallbackWarning)
	err := jsonl.ReadAll(path, func(line []byte) error {
		var w domain.FallbackWarning
		if err := json.Unmarshal(line, &w); err != nil {
			return err
		}
		if _, seen := latest[w.ID]; !seen {
			order = append(order, w.ID)
		}
		latest[w.ID] = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.FallbackWarning, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}
