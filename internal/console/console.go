// Package console prints agent progress to a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"droid-pilot/internal/agent"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPaused   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	okMark   = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Render("✓")
	failMark = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	skipMark = dimStyle.Render("·")
)

// Printer renders agent events as they arrive.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	last    agent.Status
}

// NewPrinter writes to out. With verbose set the model's reasoning is shown
// for every step.
func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{out: out, verbose: verbose}
}

func (p *Printer) OnEvent(e agent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case agent.EventStatus:
		if e.State.Status == p.last {
			return
		}
		p.last = e.State.Status
		if e.State.StepIndex == 0 && e.State.Status == agent.StatusThinking {
			fmt.Fprintf(p.out, "%s %s\n", titleStyle.Render("Task:"), e.State.Task)
			return
		}
		fmt.Fprintf(p.out, "%s %s\n", labelStyle.Render("status"), renderStatus(e.State.Status))

	case agent.EventStep:
		if e.Step != nil {
			p.printStep(e.State, *e.Step)
		}

	case agent.EventFinished:
		p.last = e.State.Status
		fmt.Fprintln(p.out, Summary(e.State))
	}
}

func (p *Printer) printStep(s agent.RunState, step agent.StepRecord) {
	mark := skipMark
	if step.Executed {
		mark = failMark
		if step.Success {
			mark = okMark
		}
	}
	counter := dimStyle.Render(fmt.Sprintf("[%d/%d]", step.Index, s.MaxSteps))
	fmt.Fprintf(p.out, "%s %s %s %s\n",
		counter,
		mark,
		step.Intent.Summary(),
		dimStyle.Render(fmt.Sprintf("(%.0f%%, %d elements)", step.Intent.Confidence*100, step.Elements)))

	if step.Error != "" {
		fmt.Fprintf(p.out, "      %s\n", statusFailed.Render(step.Error))
	}
	if p.verbose && step.Reasoning != "" {
		fmt.Fprintf(p.out, "      %s\n", dimStyle.Render(oneLine(step.Reasoning)))
	}
}

// Summary renders the final line of a run.
func Summary(s agent.RunState) string {
	var b strings.Builder
	b.WriteString(renderStatus(s.Status))
	fmt.Fprintf(&b, " after %d step(s)", s.StepIndex)
	if !s.FinishedAt.IsZero() && !s.StartedAt.IsZero() {
		fmt.Fprintf(&b, " in %s", s.FinishedAt.Sub(s.StartedAt).Round(100*time.Millisecond))
	}
	if s.Reason != "" {
		b.WriteString(": ")
		b.WriteString(s.Reason)
	}
	return b.String()
}

func renderStatus(s agent.Status) string {
	text := s.Label()
	switch s {
	case agent.StatusCompleted:
		return statusComplete.Render(text)
	case agent.StatusFailed:
		return statusFailed.Render(text)
	case agent.StatusPaused:
		return statusPaused.Render(text)
	case agent.StatusIdle:
		return dimStyle.Render(text)
	}
	return statusRunning.Render(text)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 160 {
		return string(r[:157]) + "..."
	}
	return s
}
