package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ppiankov/postrelay/internal/store"
)

type jsonHistory struct {
	Meta jsonMeta  `json:"meta"`
	Runs []jsonRun `json:"runs"`
}

type jsonMeta struct {
	Runs      int `json:"runs"`
	Published int `json:"published"`
	DryRun    int `json:"dry_run"`
	NoMatch   int `json:"no_match"`
	Failed    int `json:"failed"`
}

type jsonRun struct {
	ID         string     `json:"id"`
	StartedAt  string     `json:"started_at"`
	FinishedAt string     `json:"finished_at"`
	Attempts   int        `json:"attempts"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	DryRun     bool       `json:"dry_run,omitempty"`
	Items      []jsonItem `json:"items,omitempty"`
}

type jsonItem struct {
	Channel     string `json:"channel"`
	PostURL     string `json:"post_url,omitempty"`
	PostedAt    string `json:"posted_at,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	ImagePath   string `json:"image_path,omitempty"`
	Transformed bool   `json:"transformed"`
}

// JSONFormatter formats run history as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the history as JSON to w. Times are RFC 3339 in UTC.
func (f *JSONFormatter) Format(w io.Writer, input HistoryInput) error {
	c := countStatuses(input.Runs)
	out := jsonHistory{
		Meta: jsonMeta{
			Runs:      len(input.Runs),
			Published: c.published,
			DryRun:    c.dryRun,
			NoMatch:   c.noMatch,
			Failed:    c.failed,
		},
		Runs: make([]jsonRun, 0, len(input.Runs)),
	}
	for _, run := range input.Runs {
		out.Runs = append(out.Runs, toJSONRun(run))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSONRun(run store.Run) jsonRun {
	jr := jsonRun{
		ID:         run.ID,
		StartedAt:  utc(run.StartedAt),
		FinishedAt: utc(run.FinishedAt),
		Attempts:   run.Attempts,
		Status:     string(run.Status),
		Detail:     run.Detail,
		DryRun:     run.DryRun,
	}
	for _, item := range run.Items {
		jr.Items = append(jr.Items, jsonItem{
			Channel:     item.Channel,
			PostURL:     item.PostURL,
			PostedAt:    utc(item.PostedAt),
			PhotoURL:    item.PhotoURL,
			ImagePath:   item.ImagePath,
			Transformed: item.Transformed,
		})
	}
	return jr
}

func utc(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
