package fallback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vietddude/postforge/internal/core/domain"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// TerminalPrompter asks on an interactive terminal.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Ask renders the warning and reads an answer. Unrecognised answers are
// asked again; end of input is an error.
func (p *TerminalPrompter) Ask(ctx context.Context, w domain.FallbackWarning) (Decision, error) {
	fmt.Fprintln(p.out, RenderWarning(w))

	for {
		if err := ctx.Err(); err != nil {
			return DecisionDecline, err
		}
		fmt.Fprint(p.out, "Accept fallback? [yes/no/show_error]: ")
		line, err := p.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "" && err != nil {
			if errors.Is(err, io.EOF) {
				return DecisionDecline, fmt.Errorf("no answer: %w", err)
			}
			return DecisionDecline, err
		}

		if d, ok := ParseDecision(answer); ok {
			return d, nil
		}
		fmt.Fprintln(p.out, "Please answer yes, no or show_error.")
	}
}

func (p *TerminalPrompter) ShowDetail(_ context.Context, w domain.FallbackWarning, cause error) error {
	detail := w.ErrorMessage
	if de, ok := domain.AsError(cause); ok {
		detail = fmt.Sprintf("%s: %s", de.Kind, de.Error())
	}
	_, err := fmt.Fprintln(p.out, errorStyle.Render(detail))
	return err
}

// ParseDecision maps an operator answer to a decision.
func ParseDecision(answer string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return DecisionAccept, true
	case "n", "no":
		return DecisionDecline, true
	case "e", "error", "show_error":
		return DecisionDetail, true
	default:
		return DecisionDecline, false
	}
}

// RenderWarning draws the operator panel for a warning.
func RenderWarning(w domain.FallbackWarning) string {
	rows := []string{
		titleStyle.Render("Fallback requested"),
		labelStyle.Render("agent:     ") + w.Agent,
		labelStyle.Render("reason:    ") + string(w.Reason),
		labelStyle.Render("step:      ") + w.Step,
		labelStyle.Render("objective: ") + w.OriginalObjective,
		labelStyle.Render("error:     ") + errorStyle.Render(truncate(w.ErrorMessage, 160)),
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// StaticPrompter answers every proposal the same way. It backs
// non-interactive runs.
type StaticPrompter struct {
	Approve bool
}

func (p StaticPrompter) Ask(context.Context, domain.FallbackWarning) (Decision, error) {
	if p.Approve {
		return DecisionAccept, nil
	}
	return DecisionDecline, nil
}

func (p StaticPrompter) ShowDetail(context.Context, domain.FallbackWarning, error) error {
	return nil
}
