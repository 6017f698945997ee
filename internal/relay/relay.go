// Package relay drives one scrape-match-publish run: it resolves the time
// window, scans every source channel, downloads and transforms the selected
// photos, publishes them, and journals the outcome.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ppiankov/postrelay/internal/imagefx"
	"github.com/ppiankov/postrelay/internal/match"
	"github.com/ppiankov/postrelay/internal/media"
	"github.com/ppiankov/postrelay/internal/privacy"
	"github.com/ppiankov/postrelay/internal/publish"
	"github.com/ppiankov/postrelay/internal/source"
	"github.com/ppiankov/postrelay/internal/store"
	"github.com/ppiankov/postrelay/internal/window"
)

// PhotoMiss decides what happens when a matching post's photo cannot be
// downloaded.
type PhotoMiss string

const (
	// MissNext tries the next matching post of the same channel.
	MissNext PhotoMiss = "next"
	// MissStop gives up on the channel for this attempt.
	MissStop PhotoMiss = "stop"
)

// Target is one source channel and the marker its posts must carry.
type Target struct {
	Channel string
	Marker  string
}

// Config holds the run parameters.
type Config struct {
	Targets       []Target
	Policy        window.Policy
	RetryInterval time.Duration
	OnPhotoMiss   PhotoMiss
	Transform     imagefx.Options
	Caption       string
	DryRun        bool
}

// Downloader saves a post's photo locally.
type Downloader interface {
	Download(ctx context.Context, post source.Post) (media.Image, error)
}

// Publisher delivers the final photos.
type Publisher interface {
	Send(ctx context.Context, paths []string, caption string) publish.Result
}

// Journal records finished runs.
type Journal interface {
	RecordRun(ctx context.Context, run store.Run) (store.Run, error)
}

// Deps are the collaborators of a Relay. Source and Downloader are required;
// Publisher may be nil for dry runs and Journal may be nil to skip history.
type Deps struct {
	Source     source.Source
	Downloader Downloader
	Publisher  Publisher
	Journal    Journal
	Logger     *slog.Logger
	Redact     []*regexp.Regexp

	// Now and Sleep default to the wall clock and a context-aware timer.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Relay runs the pipeline for a fixed configuration.
type Relay struct {
	cfg     Config
	src     source.Source
	dl      Downloader
	pub     Publisher
	journal Journal
	log     *slog.Logger
	redact  []*regexp.Regexp
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Selection is the photo chosen for one channel.
type Selection struct {
	Target Target
	Post   source.Post
	Image  media.Image
	Final  imagefx.Result
}

// Outcome is the result of Run. Publish is nil when nothing was sent.
type Outcome struct {
	Run        store.Run
	Window     window.Window
	Selections []Selection
	Publish    *publish.Result
}

// New validates cfg and returns a Relay.
func New(cfg Config, deps Deps) (*Relay, error) {
	if deps.Source == nil {
		return nil, errors.New("relay: source is required")
	}
	if deps.Downloader == nil {
		return nil, errors.New("relay: downloader is required")
	}
	if deps.Publisher == nil && !cfg.DryRun {
		return nil, errors.New("relay: publisher is required unless dry-run")
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.New("relay: at least one source channel is required")
	}
	if len(cfg.Targets) > publish.MaxGroupSize {
		return nil, fmt.Errorf("relay: at most %d source channels, got %d", publish.MaxGroupSize, len(cfg.Targets))
	}
	// Downloads are named after the handle, so a channel may appear once.
	seen := make(map[string]int, len(cfg.Targets))
	for i, t := range cfg.Targets {
		handle := source.NormalizeHandle(t.Channel)
		if handle == "" {
			return nil, fmt.Errorf("relay: target %d: channel is empty", i)
		}
		if t.Marker == "" {
			return nil, fmt.Errorf("relay: target %d: marker is empty", i)
		}
		if j, dup := seen[handle]; dup {
			return nil, fmt.Errorf("relay: target %d: channel %q duplicates target %d", i, handle, j)
		}
		seen[handle] = i
	}
	if cfg.Policy.Mode == window.ModeRolling && cfg.RetryInterval <= 0 {
		return nil, errors.New("relay: retry interval must be positive in rolling mode")
	}
	if cfg.OnPhotoMiss == "" {
		cfg.OnPhotoMiss = MissNext
	}

	r := &Relay{
		cfg:     cfg,
		src:     deps.Source,
		dl:      deps.Downloader,
		pub:     deps.Publisher,
		journal: deps.Journal,
		log:     deps.Logger,
		redact:  deps.Redact,
		now:     deps.Now,
		sleep:   deps.Sleep,
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.sleep == nil {
		r.sleep = sleepContext
	}
	return r, nil
}

// Run performs one relay run. Publish failures are reported in the outcome,
// not as an error; the error is non-nil only when ctx is cancelled.
func (r *Relay) Run(ctx context.Context) (Outcome, error) {
	started := r.now()
	out := Outcome{Run: store.Run{ID: store.NewRunID(), StartedAt: started, DryRun: r.cfg.DryRun}}

	sel, w, attempts, err := r.poll(ctx)
	out.Window = w
	out.Run.Attempts = attempts
	if err != nil {
		out.Run.Status = store.StatusFailed
		out.Run.Detail = r.scrub(err)
		r.finish(&out)
		return out, err
	}

	if len(sel) == 0 {
		r.log.Info("no matching post", "window", w.String(), "attempts", attempts)
		out.Run.Status = store.StatusNoMatch
		out.Run.Detail = "no matching post with a photo in " + w.String()
		r.finish(&out)
		return out, nil
	}

	for i := range sel {
		sel[i].Final = imagefx.Apply(sel[i].Image.Path, r.cfg.Transform)
		if sel[i].Final.Err != nil {
			r.log.Warn("transform failed, publishing original",
				"channel", sel[i].Target.Channel, "mode", r.cfg.Transform.Mode, "error", sel[i].Final.Err)
		}
	}
	out.Selections = sel

	paths := make([]string, 0, len(sel))
	for _, s := range sel {
		paths = append(paths, s.Final.Path)
	}

	if r.cfg.DryRun {
		r.log.Info("dry run, not publishing", "photos", len(paths))
		out.Run.Status = store.StatusDryRun
		out.Run.Detail = fmt.Sprintf("would publish %d photo(s)", len(paths))
		r.finish(&out)
		return out, nil
	}

	res := r.pub.Send(ctx, paths, r.cfg.Caption)
	if res.Err != nil {
		res.Err = errors.New(r.scrub(res.Err))
	}
	out.Publish = &res
	if res.OK() {
		r.log.Info("published", "method", res.Method, "photos", res.Count, "message_ids", res.MessageIDs)
		out.Run.Status = store.StatusPublished
		out.Run.Detail = fmt.Sprintf("%s: %d photo(s)", res.Method, res.Count)
	} else {
		r.log.Error("publish failed", "error", res.Err)
		out.Run.Status = store.StatusFailed
		out.Run.Detail = res.Err.Error()
	}
	r.finish(&out)
	return out, nil
}

// poll runs attempts until every target has a downloaded photo, the mode
// allows no further attempts, or the cutoff passes. It returns selections
// in target order.
func (r *Relay) poll(ctx context.Context) ([]Selection, window.Window, int, error) {
	found := make([]*Selection, len(r.cfg.Targets))
	deadline := r.cfg.Policy.Deadline(r.now())

	var (
		w        window.Window
		attempts int
	)
	for {
		attempts++
		now := r.now()
		resolved, err := r.cfg.Policy.Resolve(now)
		switch {
		case errors.Is(err, window.ErrEmptyWindow):
			r.log.Warn("window is empty, nothing can match", "attempt", attempts, "error", err)
		case err != nil:
			return nil, w, attempts, err
		default:
			w = resolved
			r.attempt(ctx, w, found)
		}

		if err := ctx.Err(); err != nil {
			return nil, w, attempts, err
		}
		if complete(found) {
			break
		}
		if r.cfg.Policy.Mode != window.ModeRolling {
			break
		}
		if !r.now().Before(deadline) {
			r.log.Info("cutoff reached, giving up", "cutoff", deadline.Format(time.RFC3339), "attempts", attempts)
			break
		}

		r.log.Debug("no match yet, waiting", "attempt", attempts, "retry_in", r.cfg.RetryInterval)
		if err := r.sleep(ctx, r.cfg.RetryInterval); err != nil {
			return nil, w, attempts, err
		}
	}

	var sel []Selection
	for _, s := range found {
		if s != nil {
			sel = append(sel, *s)
		}
	}
	return sel, w, attempts, nil
}

// attempt scans every unresolved target once and fills found in place.
func (r *Relay) attempt(ctx context.Context, w window.Window, found []*Selection) {
	for i, t := range r.cfg.Targets {
		if found[i] != nil {
			continue
		}
		posts := r.fetch(ctx, t.Channel)
		candidates := match.Candidates(posts, match.Rule{Window: w, Marker: t.Marker})
		r.log.Debug("scanned channel", "channel", t.Channel, "posts", len(posts), "candidates", len(candidates))

		for _, post := range candidates {
			img, err := r.dl.Download(ctx, post)
			if err == nil {
				r.log.Info("photo downloaded", "channel", t.Channel, "post", post.URL, "path", img.Path, "size", img.Size)
				found[i] = &Selection{Target: t, Post: post, Image: img}
				break
			}
			r.log.Warn("photo download failed", "channel", t.Channel, "post", post.URL, "error", r.scrub(err))
			if r.cfg.OnPhotoMiss == MissStop {
				break
			}
		}
	}
}

// fetch returns the channel's posts; failures are logged and read as an
// empty feed.
func (r *Relay) fetch(ctx context.Context, channel string) []source.Post {
	posts, err := r.src.Fetch(ctx, channel)
	if err != nil {
		r.log.Warn("fetch failed", "source", r.src.Name(), "channel", channel, "error", r.scrub(err))
		return nil
	}
	return posts
}

// finish stamps the run and writes it to the journal.
func (r *Relay) finish(out *Outcome) {
	out.Run.FinishedAt = r.now()
	for _, s := range out.Selections {
		out.Run.Items = append(out.Run.Items, store.RunItem{
			Channel:     source.NormalizeHandle(s.Target.Channel),
			PostURL:     s.Post.URL,
			PostedAt:    s.Post.PostedAt,
			PhotoURL:    s.Post.PhotoURL,
			ImagePath:   s.Final.Path,
			Transformed: s.Final.Applied,
		})
	}
	if r.journal == nil {
		return
	}
	// The run context may already be cancelled; the record must still land.
	saved, err := r.journal.RecordRun(context.Background(), out.Run)
	if err != nil {
		r.log.Warn("journal write failed", "run", out.Run.ID, "error", err)
		return
	}
	out.Run = saved
}

func (r *Relay) scrub(err error) string {
	if err == nil {
		return ""
	}
	return privacy.Apply(err.Error(), r.redact)
}

func complete(found []*Selection) bool {
	for _, s := range found {
		if s == nil {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
