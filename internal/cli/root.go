// Package cli provides the command-line interface for postrelay.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configDir string
	verbose   bool
)

// logOutput is where structured logs go; tests swap it.
var logOutput io.Writer = os.Stderr

var rootCmd = &cobra.Command{
	Use:           "postrelay",
	Short:         "Relay marked channel posts to another channel",
	Long:          "postrelay watches public Telegram channel previews for the first post in a time window that carries a marker, downloads its photo, optionally overlays or crops it, and republishes it to a target channel through the Bot API.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("postrelay %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir(), "config directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(initCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".postrelay"
	}
	return filepath.Join(home, ".postrelay")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: level}))
}
