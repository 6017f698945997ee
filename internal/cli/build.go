package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ppiankov/postrelay/internal/config"
	"github.com/ppiankov/postrelay/internal/imagefx"
	"github.com/ppiankov/postrelay/internal/media"
	"github.com/ppiankov/postrelay/internal/privacy"
	"github.com/ppiankov/postrelay/internal/publish"
	"github.com/ppiankov/postrelay/internal/relay"
	"github.com/ppiankov/postrelay/internal/source"
)

// relayOptions are the per-invocation knobs layered over the config.
type relayOptions struct {
	dryRun  bool
	journal relay.Journal
}

func buildRelay(cfg *config.Config, logger *slog.Logger, opts relayOptions) (*relay.Relay, error) {
	client := source.NewHTTPClient(cfg.Feed.Timeout.Duration, cfg.Feed.UserAgent)

	src, err := buildSource(cfg, client)
	if err != nil {
		return nil, err
	}

	redact, err := redactPatterns(cfg)
	if err != nil {
		return nil, err
	}

	var pub relay.Publisher
	if !opts.dryRun {
		p, err := publish.New(publish.Config{
			APIURL: cfg.Telegram.APIURL,
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.Target,
		})
		if err != nil {
			return nil, fmt.Errorf("create publisher: %w", err)
		}
		pub = p
	}

	policy, err := cfg.WindowPolicy()
	if err != nil {
		return nil, err
	}

	targets := make([]relay.Target, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		targets = append(targets, relay.Target{Channel: s.Channel, Marker: s.Marker})
	}

	return relay.New(relay.Config{
		Targets:       targets,
		Policy:        policy,
		RetryInterval: cfg.Window.RetryInterval.Duration,
		OnPhotoMiss:   relay.PhotoMiss(cfg.Media.OnPhotoMiss),
		Transform: imagefx.Options{
			Mode:     imagefx.Mode(cfg.Transform.Mode),
			Overlay:  resolveAsset(cfg.Transform.Overlay),
			Resample: imagefx.Resample(cfg.Transform.Resample),
			CropTop:  cfg.Transform.CropTop,
		},
		Caption: cfg.Publish.Caption,
		DryRun:  opts.dryRun,
	}, relay.Deps{
		Source:     src,
		Downloader: media.NewDownloader(client, cfg.Media.WorkDir),
		Publisher:  pub,
		Journal:    opts.journal,
		Logger:     logger,
		Redact:     redact,
	})
}

func buildSource(cfg *config.Config, client *http.Client) (source.Source, error) {
	switch cfg.Feed.Format {
	case "rss":
		rs, err := source.NewRSS(cfg.Feed.BaseURL, client)
		if err != nil {
			return nil, fmt.Errorf("create rss source: %w", err)
		}
		return rs, nil
	default:
		tg, err := source.NewTelegram(cfg.Feed.BaseURL, client)
		if err != nil {
			return nil, fmt.Errorf("create telegram source: %w", err)
		}
		return tg, nil
	}
}

// redactPatterns combines the bot token with the configured patterns.
func redactPatterns(cfg *config.Config) ([]*regexp.Regexp, error) {
	secrets, err := privacy.Secrets(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	extra, err := privacy.Compile(cfg.Privacy.Redact.Patterns)
	if err != nil {
		return nil, fmt.Errorf("compile redact patterns: %w", err)
	}
	return append(secrets, extra...), nil
}

// resolveAsset finds a relative asset path in the working directory first,
// then in the config directory.
func resolveAsset(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	candidate := filepath.Join(configDir, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}
