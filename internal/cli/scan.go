package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postrelay/internal/config"
	"github.com/ppiankov/postrelay/internal/relay"
)

var scanAll bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Show which posts match without downloading or publishing",
	RunE:  scanAction,
}

func init() {
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "list every post with the reason it does or does not match")
}

func scanAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	r, err := buildRelay(cfg, newLogger(), relayOptions{dryRun: true})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := r.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	printScan(report, scanAll)
	return nil
}

func printScan(report relay.ScanReport, all bool) {
	fmt.Printf("Window: %s\n\n", report.Window)
	for _, res := range report.Results {
		fmt.Printf("%s (marker %s): %d posts, %d match\n",
			res.Target.Channel, res.Target.Marker, len(res.Posts), len(res.Candidates))
		if res.FetchErr != "" {
			fmt.Printf("  warning: %s\n", res.FetchErr)
		}
		if res.Found {
			fmt.Printf("  selected: %s\n", res.Selected.URL)
		}

		shown := res.Candidates
		if all {
			shown = res.Posts
		}
		for _, p := range shown {
			photo := "no photo"
			if p.HasPhoto() {
				photo = "photo"
			}
			fmt.Printf("  %-26s %s  %s  [%s]  %s\n",
				res.Rule.Reason(p),
				p.PostedAt.In(report.Window.Start.Location()).Format("2006-01-02 15:04"),
				p.URL,
				photo,
				firstLine(p.Text, 60),
			)
		}
		fmt.Println()
	}
}

func firstLine(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}
