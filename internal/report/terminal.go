package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/postrelay/internal/store"
)

// TerminalFormatter formats run history for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes one block per run, newest first.
func (f *TerminalFormatter) Format(w io.Writer, input HistoryInput) error {
	c := countStatuses(input.Runs)
	header := fmt.Sprintf("postrelay - %d runs (%d published, %d dry-run, %d no match, %d failed)",
		len(input.Runs), c.published, c.dryRun, c.noMatch, c.failed)
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if len(input.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	for _, run := range input.Runs {
		f.writeRun(w, input, run)
	}
	return nil
}

func (f *TerminalFormatter) writeRun(w io.Writer, input HistoryInput, run store.Run) {
	when := input.stamp(run.StartedAt)
	if ago := input.ago(run.StartedAt); ago != "" {
		when += " (" + ago + ")"
	}

	attempts := "1 attempt"
	if run.Attempts != 1 {
		attempts = fmt.Sprintf("%d attempts", run.Attempts)
	}

	fmt.Fprintf(w, "  %s %s  %s, %s\n",
		f.status(run.Status),
		when,
		attempts,
		run.Duration().Round(time.Second),
	)
	if run.Detail != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(run.Detail))
	}
	for _, item := range run.Items {
		parts := []string{item.Channel}
		if item.PostURL != "" {
			parts = append(parts, item.PostURL)
		}
		if !item.PostedAt.IsZero() {
			parts = append(parts, "posted "+input.stamp(item.PostedAt))
		}
		if item.Transformed {
			parts = append(parts, "transformed")
		}
		fmt.Fprintf(w, "      %s\n", strings.Join(parts, "  "))
	}
	fmt.Fprintln(w)
}

func (f *TerminalFormatter) status(s store.Status) string {
	label := "[" + string(s) + "]"
	switch s {
	case store.StatusPublished:
		return f.green(f.bold(label))
	case store.StatusDryRun, store.StatusNoMatch:
		return f.yellow(label)
	default:
		return f.red(f.bold(label))
	}
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) paint(code, s string) string {
	if !f.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (f *TerminalFormatter) bold(s string) string   { return f.paint("1", s) }
func (f *TerminalFormatter) green(s string) string  { return f.paint("32", s) }
func (f *TerminalFormatter) yellow(s string) string { return f.paint("33", s) }
func (f *TerminalFormatter) red(s string) string    { return f.paint("31", s) }
func (f *TerminalFormatter) dim(s string) string    { return f.paint("2", s) }
