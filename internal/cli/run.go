package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postrelay/internal/config"
	"github.com/ppiankov/postrelay/internal/relay"
	"github.com/ppiankov/postrelay/internal/store"
)

var (
	runDryRun bool
	runEvery  string
)

// runOnceAction is swapped in tests.
var runOnceAction = runOnce

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Find the marked post, fetch its photo, and publish it",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "download and transform but do not publish")
	runCmd.Flags().StringVar(&runEvery, "every", "", "repeat the run on this interval (e.g. 24h)")
}

func runAction(cmd *cobra.Command, args []string) error {
	interval, err := parseRunEvery(runEvery)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if interval == 0 {
		return runOnceAction(cmd, args)
	}
	return runWatch(ctx, interval, func() error {
		return runOnceAction(cmd, args)
	})
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()

	logger := newLogger()
	r, err := buildRelay(cfg, logger, relayOptions{dryRun: runDryRun, journal: db})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if pruned, err := db.PruneOld(ctx, cfg.Storage.RetainDays); err != nil {
		fmt.Printf("warning: prune journal: %v\n", err)
	} else if pruned > 0 {
		logger.Debug("pruned journal", "runs", pruned)
	}

	printOutcome(out)
	return nil
}

func printOutcome(out relay.Outcome) {
	switch out.Run.Status {
	case store.StatusPublished:
		fmt.Printf("Published %d photo(s) after %d attempt(s).\n", len(out.Selections), out.Run.Attempts)
	case store.StatusDryRun:
		fmt.Printf("Dry run: %d photo(s) ready, nothing published.\n", len(out.Selections))
	case store.StatusNoMatch:
		fmt.Printf("No matching post in %s.\n", out.Window)
	default:
		fmt.Printf("Run failed: %s\n", out.Run.Detail)
	}
	for _, s := range out.Selections {
		fmt.Printf("  %s  %s  %s\n", s.Post.Channel, s.Post.URL, s.Final.Path)
	}
}

func parseRunEvery(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse --every: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("--every must be positive")
	}
	return d, nil
}

// runWatch calls fn immediately and then every interval until ctx is done.
// Errors from fn are printed and do not stop the loop.
func runWatch(ctx context.Context, interval time.Duration, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("warning: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
