package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vietddude/postforge/internal/infra/artifact"
)

// RunIndex is an external index of runs that must forget pruned ones.
type RunIndex interface {
	Remove(ctx context.Context, runID string) error
}

// Pruner deletes run directories based on a retention policy.
type Pruner struct {
	base      string
	retention time.Duration
	index     RunIndex
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a Pruner for the run directories under base.
func NewPruner(base string, retention time.Duration) *Pruner {
	return &Pruner{
		base:      base,
		retention: retention,
		now:       time.Now,
		log:       slog.Default().With("component", "Pruner"),
	}
}

// SetIndex makes the pruner drop removed runs from idx.
func (p *Pruner) SetIndex(idx RunIndex) {
	p.index = idx
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.pruneAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneAndLog(ctx)
		}
	}
}

// Prune removes every run last modified before the retention threshold and
// returns the removed run ids. The newest run is always kept.
func (p *Pruner) Prune(ctx context.Context) ([]string, error) {
	if p.retention <= 0 {
		return nil, nil
	}

	runs, err := artifact.ListRuns(p.base)
	if err != nil {
		return nil, err
	}

	threshold := p.now().Add(-p.retention)
	var removed []string
	for i, r := range runs {
		if i == 0 || !r.ModTime.Before(threshold) {
			continue
		}
		if err := os.RemoveAll(r.Dir); err != nil {
			return removed, fmt.Errorf("remove run %s: %w", r.ID, err)
		}
		removed = append(removed, r.ID)

		if p.index != nil {
			if err := p.index.Remove(ctx, r.ID); err != nil {
				p.log.Warn("Failed to drop pruned run from index", "run_id", r.ID, "error", err)
			}
		}
	}
	return removed, nil
}

func (p *Pruner) pruneAndLog(ctx context.Context) {
	removed, err := p.Prune(ctx)
	if err != nil {
		p.log.Error("Failed to prune runs", "dir", p.base, "error", err)
		return
	}
	if len(removed) > 0 {
		p.log.Info("Pruned old runs", "count", len(removed), "retention", p.retention)
	}
}
