package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	sourceName      = "telegram"
	DefaultFeedBase = "https://t.me/s/"
)

// Class markers of the public channel preview. Any change to the page
// layout is confined to these selectors.
const (
	selPost    = "div.tgme_widget_message_wrap"
	selMessage = "div.tgme_widget_message"
	selTime    = "time"
	selText    = "div.tgme_widget_message_text"
	selReply   = ".js-message_reply_text"
	selPhoto   = "a.tgme_widget_message_photo_wrap"
	selLink    = "a.tgme_widget_message_date"
)

var styleURLRe = regexp.MustCompile(`url\(\s*(?:'([^']*)'|"([^"]*)"|([^)'"\s]+))\s*\)`)

// TelegramSource scrapes the public web preview of a channel.
type TelegramSource struct {
	baseURL string
	client  *http.Client
}

// NewTelegram creates a Telegram preview source. baseURL defaults to
// https://t.me/s/ and is joined with the normalized handle.
func NewTelegram(baseURL string, client *http.Client) (*TelegramSource, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultFeedBase
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("telegram: base url %q must be http(s)", baseURL)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if client == nil {
		client = NewHTTPClient(DefaultFetchTimeout, DefaultUserAgent)
	}
	return &TelegramSource{baseURL: baseURL, client: client}, nil
}

// Name returns "telegram".
func (ts *TelegramSource) Name() string {
	return sourceName
}

// PageURL returns the preview page URL for channel.
func (ts *TelegramSource) PageURL(channel string) string {
	return ts.baseURL + NormalizeHandle(channel)
}

// Fetch downloads the preview page once and parses it.
func (ts *TelegramSource) Fetch(ctx context.Context, channel string) ([]Post, error) {
	handle := NormalizeHandle(channel)
	if handle == "" {
		return nil, errors.New("telegram: empty channel handle")
	}

	body, err := getPage(ctx, ts.client, ts.PageURL(handle))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	posts, err := ParseHTML(bytes.NewReader(body), handle)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return posts, nil
}

// ParseHTML extracts posts from a channel preview page in document order.
// Posts without a parseable timestamp are dropped.
func ParseHTML(r io.Reader, channel string) ([]Post, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var posts []Post
	doc.Find(selPost).Each(func(_ int, s *goquery.Selection) {
		datetime, ok := s.Find(selTime).First().Attr("datetime")
		if !ok {
			return
		}
		postedAt, err := parseTimestamp(datetime)
		if err != nil {
			return
		}

		p := Post{
			Channel:  channel,
			Text:     s.Find(selText).Not(selReply).First().Text(),
			PostedAt: postedAt,
		}
		if id, ok := s.Find(selMessage).First().Attr("data-post"); ok {
			p.ExternalID = id
		}
		if href, ok := s.Find(selLink).First().Attr("href"); ok {
			p.URL = href
		}
		if style, ok := s.Find(selPhoto).First().Attr("style"); ok {
			p.PhotoURL = StyleURL(style)
		}
		posts = append(posts, p)
	})

	return posts, nil
}

// StyleURL returns the first url(...) value in an inline style attribute,
// or "" when there is none.
func StyleURL(style string) string {
	m := styleURLRe.FindStringSubmatch(style)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
