package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ppiankov/postrelay/internal/config"
	"github.com/ppiankov/postrelay/internal/report"
	"github.com/ppiankov/postrelay/internal/store"
)

var (
	historyLimit  int
	historyFormat string
	noColor       bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs from the journal",
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyFormat, "format", "terminal", "output format: terminal, json, markdown")
	historyCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

func historyAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	formatter, ok := report.New(historyFormat, useColor())
	if !ok {
		return fmt.Errorf("unknown format %q (want terminal, json, or markdown)", historyFormat)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runs, err := db.ListRuns(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	return formatter.Format(os.Stdout, report.HistoryInput{
		Runs:     runs,
		Now:      time.Now(),
		Location: cfg.Location,
	})
}

// useColor enables ANSI output only on an interactive terminal.
func useColor() bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
