// Package report renders the run journal for humans and tools.
package report

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/postrelay/internal/store"
)

// HistoryInput is the input for a history formatter.
type HistoryInput struct {
	Runs     []store.Run // newest first
	Now      time.Time   // reference for relative times
	Location *time.Location
}

// Formatter writes formatted run history to w.
type Formatter interface {
	Format(w io.Writer, input HistoryInput) error
}

// New returns the formatter for name: "terminal", "json", or "markdown".
func New(name string, color bool) (Formatter, bool) {
	switch name {
	case "", "terminal":
		return NewTerminal(color), true
	case "json":
		return NewJSON(), true
	case "markdown", "md":
		return NewMarkdown(), true
	default:
		return nil, false
	}
}

type statusCounts struct {
	published, dryRun, noMatch, failed int
}

func countStatuses(runs []store.Run) statusCounts {
	var c statusCounts
	for _, r := range runs {
		switch r.Status {
		case store.StatusPublished:
			c.published++
		case store.StatusDryRun:
			c.dryRun++
		case store.StatusNoMatch:
			c.noMatch++
		default:
			c.failed++
		}
	}
	return c
}

func (in HistoryInput) loc() *time.Location {
	if in.Location == nil {
		return time.Local
	}
	return in.Location
}

func (in HistoryInput) stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(in.loc()).Format("2006-01-02 15:04")
}

func (in HistoryInput) ago(t time.Time) string {
	if in.Now.IsZero() || t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, in.Now, "ago", "from now")
}
