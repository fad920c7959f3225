package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vietddude/postforge/internal/core/domain"
	"github.com/vietddude/postforge/internal/pipeline"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-12s", label)) + value
}

// renderReport draws the end-of-run summary.
func renderReport(rep *pipeline.Report) string {
	var rows []string
	if rep.Status == domain.RunStatusSuccess {
		rows = append(rows, okStyle.Render("Run succeeded"))
	} else {
		rows = append(rows, failStyle.Render("Run failed"))
	}

	if rep.RunID != "" {
		rows = append(rows, row("run", rep.RunID))
		rows = append(rows, row("dir", rep.Dir))
	}
	if rep.Topic != "" {
		rows = append(rows, row("topic", rep.Topic))
	}
	if rep.Error != nil {
		rows = append(rows, row("error", failStyle.Render(rep.Error.Type)+" "+rep.Error.Message))
	}
	if rep.FailureArtifact != "" {
		rows = append(rows, row("report", rep.FailureArtifact))
	}
	if path, ok := rep.Artifacts["final_post"]; ok {
		rows = append(rows, row("post", path))
	}
	if path, ok := rep.Artifacts["image"]; ok {
		rows = append(rows, row("image", path))
	}

	rows = append(rows,
		row("cost", fmt.Sprintf("$%.4f of $%.2f (%d/%d calls)",
			rep.Cost.TotalCostUSD, rep.Cost.MaxCostUSD, rep.Cost.TotalCalls, rep.Cost.MaxCalls)),
		row("duration", fmt.Sprintf("%.1fs", rep.Metrics.DurationSeconds)),
	)
	if rep.Metrics.ShorteningIterations > 0 {
		rows = append(rows, row("iterations", fmt.Sprintf("%d", rep.Metrics.ShorteningIterations)))
	}
	if rep.Metrics.TopicSubstitutions > 0 {
		rows = append(rows, row("topic subs", fmt.Sprintf("%d", rep.Metrics.TopicSubstitutions)))
	}
	if rep.Fallbacks.Total > 0 {
		rows = append(rows, row("fallbacks", fmt.Sprintf("%d proposed, %d approved", rep.Fallbacks.Total, rep.Fallbacks.Approved)))
	}
	if len(rep.Cost.CostsByAgent) > 0 {
		rows = append(rows, labelStyle.Render("cost by agent"))
		agents := make([]string, 0, len(rep.Cost.CostsByAgent))
		for a := range rep.Cost.CostsByAgent {
			agents = append(agents, a)
		}
		sort.Strings(agents)
		for _, a := range agents {
			rows = append(rows, fmt.Sprintf("  %-24s $%.4f (%d)", a, rep.Cost.CostsByAgent[a], rep.Cost.CallsByAgent[a]))
		}
	}

	return boxStyle.Render(strings.Join(rows, "\n"))
}
