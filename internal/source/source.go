package source

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Post represents a single channel post parsed from a feed page.
type Post struct {
	Channel    string    // normalized channel handle
	ExternalID string    // source-specific ID, e.g. "channel/123"
	URL        string    // link to the original post
	Text       string    // caption text
	PhotoURL   string    // first attached photo, empty when none could be extracted
	PostedAt   time.Time // publication timestamp
}

// HasPhoto reports whether a photo URL was extracted for the post.
func (p Post) HasPhoto() bool {
	return p.PhotoURL != ""
}

// Source fetches the posts currently visible on a channel's feed page.
type Source interface {
	// Name returns the source identifier (e.g. "telegram").
	Name() string

	// Fetch returns posts in the order the feed presents them. Transport
	// failures and non-200 responses are reported as errors; the caller
	// decides whether to treat them as an empty feed.
	Fetch(ctx context.Context, channel string) ([]Post, error)
}

// NormalizeHandle turns "@name", "name" or "https://t.me/name" into "name".
func NormalizeHandle(channel string) string {
	h := strings.TrimSpace(channel)
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil {
			h = strings.Trim(u.Path, "/")
			h = strings.TrimPrefix(h, "s/")
		}
	}
	h = strings.TrimPrefix(h, "@")
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	return h
}
