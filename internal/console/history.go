package console

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"droid-pilot/internal/journal"
)

var idStyle = lipgloss.NewStyle().Width(10)

// PrintRuns lists journaled runs, one per line.
func PrintRuns(w io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no runs recorded"))
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Recent runs"))
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			idStyle.Render(id),
			dimStyle.Render(r.StartedAt.Local().Format(time.DateTime)),
			runStatus(r.Status),
			dimStyle.Render(fmt.Sprintf("%3d steps", r.Steps)),
			oneLine(r.Task))
		if r.Reason != "" {
			fmt.Fprintf(w, "%s %s\n", idStyle.Render(""), dimStyle.Render(oneLine(r.Reason)))
		}
	}
}

// PrintSteps lists the steps of one run.
func PrintSteps(w io.Writer, steps []journal.Step) {
	if len(steps) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no steps recorded"))
		return
	}
	for _, s := range steps {
		mark := skipMark
		if s.Executed {
			mark = failMark
			if s.Success {
				mark = okMark
			}
		}
		fmt.Fprintf(w, "%s %s %s %s\n",
			dimStyle.Render(fmt.Sprintf("[%d]", s.Index)),
			mark,
			s.Action,
			dimStyle.Render(s.Duration.Round(time.Millisecond).String()))
		if s.Error != "" {
			fmt.Fprintf(w, "      %s\n", statusFailed.Render(s.Error))
		}
		if s.Reasoning != "" {
			fmt.Fprintf(w, "      %s\n", dimStyle.Render(oneLine(s.Reasoning)))
		}
	}
}

func runStatus(s string) string {
	switch s {
	case "completed":
		return statusComplete.Render(s)
	case "failed":
		return statusFailed.Render(s)
	case "paused":
		return statusPaused.Render(s)
	case "idle":
		return dimStyle.Render("stopped")
	}
	return statusRunning.Render(s)
}
