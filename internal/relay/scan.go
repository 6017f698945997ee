package relay

import (
	"context"

	"github.com/ppiankov/postrelay/internal/match"
	"github.com/ppiankov/postrelay/internal/source"
	"github.com/ppiankov/postrelay/internal/window"
)

// ScanResult is what one channel's feed looked like against the rule.
type ScanResult struct {
	Target     Target
	Rule       match.Rule
	Posts      []source.Post
	Candidates []source.Post
	Selected   source.Post // first match; valid when Found
	Found      bool
	FetchErr   string
}

// ScanReport is a read-only view of a single attempt.
type ScanReport struct {
	Window  window.Window
	Results []ScanResult
}

// Scan fetches and matches every target once without downloading or
// publishing anything.
func (r *Relay) Scan(ctx context.Context) (ScanReport, error) {
	w, err := r.cfg.Policy.Resolve(r.now())
	if err != nil {
		return ScanReport{}, err
	}

	report := ScanReport{Window: w}
	for _, t := range r.cfg.Targets {
		rule := match.Rule{Window: w, Marker: t.Marker}
		res := ScanResult{Target: t, Rule: rule}

		posts, err := r.src.Fetch(ctx, t.Channel)
		if err != nil {
			res.FetchErr = r.scrub(err)
		}
		res.Posts = posts
		res.Candidates = match.Candidates(posts, rule)
		res.Selected, res.Found = match.First(posts, rule)
		report.Results = append(report.Results, res)

		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	return report, nil
}
