package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/postrelay/internal/config"
	"github.com/ppiankov/postrelay/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, environment, assets, and journal",
	RunE:  doctorAction,
}

func doctorAction(_ *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s (run postrelay init)", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file and environment
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config (%d source channels, %s window, target %s)",
		len(cfg.Sources), cfg.Window.Mode, cfg.Telegram.Target)
	printCheck(true, "bot token from %s", cfg.Telegram.TokenEnv)

	// Overlay asset
	if cfg.Transform.Mode == "composite" {
		overlay := resolveAsset(cfg.Transform.Overlay)
		if info, err := os.Stat(overlay); err != nil || info.IsDir() {
			printCheck(false, "overlay %s not found", overlay)
			ok = false
		} else {
			printCheck(true, "overlay %s (%s)", overlay, humanize.Bytes(uint64(info.Size())))
		}
	}

	// Work dir
	if err := checkWritable(cfg.Media.WorkDir); err != nil {
		printCheck(false, "work dir %s: %v", cfg.Media.WorkDir, err)
		ok = false
	} else {
		printCheck(true, "work dir %s", cfg.Media.WorkDir)
	}

	// Journal
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "journal: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		size := ""
		if info, err := os.Stat(cfg.Storage.Path); err == nil {
			size = " (" + humanize.Bytes(uint64(info.Size())) + ")"
		}
		printCheck(true, "journal %s%s", cfg.Storage.Path, size)
		checkLastRun(db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

// checkLastRun prints info about the most recent run, if any.
func checkLastRun(db *store.Store) {
	runs, err := db.ListRuns(context.Background(), 1)
	if err != nil || len(runs) == 0 {
		return
	}
	last := runs[0]
	printInfo("last run %s: %s", humanize.Time(last.StartedAt), last.Status)
	if last.Status == store.StatusFailed && last.Detail != "" {
		printInfo("last failure: %s", last.Detail)
	}
	if time.Since(last.StartedAt) > 48*time.Hour {
		printInfo("no run in the last 2 days; is the scheduler running?")
	}
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".postrelay-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
