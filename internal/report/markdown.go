package report

import (
	"fmt"
	"io"

	"github.com/ppiankov/postrelay/internal/store"
)

// MarkdownFormatter formats run history as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes a summary line and a table of runs.
func (f *MarkdownFormatter) Format(w io.Writer, input HistoryInput) error {
	c := countStatuses(input.Runs)
	fmt.Fprintf(w, "# postrelay history\n\n")
	fmt.Fprintf(w, "%d runs: %d published, %d dry-run, %d no match, %d failed\n\n",
		len(input.Runs), c.published, c.dryRun, c.noMatch, c.failed)

	if len(input.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	fmt.Fprintln(w, "| Started | Status | Attempts | Photos | Detail |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for _, run := range input.Runs {
		fmt.Fprintf(w, "| %s | `%s` | %d | %s | %s |\n",
			input.stamp(run.StartedAt),
			run.Status,
			run.Attempts,
			photoLinks(run.Items),
			escapeCell(run.Detail),
		)
	}
	return nil
}

func photoLinks(items []store.RunItem) string {
	if len(items) == 0 {
		return "-"
	}
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		if item.PostURL != "" {
			out += fmt.Sprintf("[%s](%s)", item.Channel, item.PostURL)
		} else {
			out += item.Channel
		}
	}
	return out
}

func escapeCell(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '|':
			out = append(out, '\\', '|')
		case '\n':
			out = append(out, ' ')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
