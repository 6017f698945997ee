package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	rssSourceName      = "rss"
	channelPlaceholder = "{channel}"
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// RSSSource reads a channel through an RSS/Atom bridge. The URL template
// must contain "{channel}".
type RSSSource struct {
	urlTemplate string
	client      *http.Client
}

// NewRSS creates an RSS/Atom source from a URL template such as
// "https://rsshub.app/telegram/channel/{channel}".
func NewRSS(urlTemplate string, client *http.Client) (*RSSSource, error) {
	if !strings.Contains(urlTemplate, channelPlaceholder) {
		return nil, fmt.Errorf("rss: url template %q must contain %s", urlTemplate, channelPlaceholder)
	}
	if client == nil {
		client = NewHTTPClient(DefaultFetchTimeout, DefaultUserAgent)
	}
	return &RSSSource{urlTemplate: urlTemplate, client: client}, nil
}

func (rs *RSSSource) Name() string {
	return rssSourceName
}

func (rs *RSSSource) Fetch(ctx context.Context, channel string) ([]Post, error) {
	handle := NormalizeHandle(channel)
	if handle == "" {
		return nil, errors.New("rss: empty channel handle")
	}

	feedURL := strings.ReplaceAll(rs.urlTemplate, channelPlaceholder, handle)
	body, err := getPage(ctx, rs.client, feedURL)
	if err != nil {
		return nil, fmt.Errorf("rss: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("rss: parse %s: %w", feedURL, err)
	}

	return ParseFeed(feed, handle), nil
}

// ParseFeed converts feed items to posts in feed order. Items without a
// publish or update time are dropped.
func ParseFeed(feed *gofeed.Feed, channel string) []Post {
	var posts []Post
	for _, item := range feed.Items {
		postedAt := itemPublishedTime(item)
		if postedAt.IsZero() {
			continue
		}

		posts = append(posts, Post{
			Channel:    channel,
			ExternalID: itemID(item),
			URL:        item.Link,
			Text:       itemText(item),
			PhotoURL:   itemPhoto(item),
			PostedAt:   postedAt,
		})
	}
	return posts
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func itemText(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}

	text := stripHTML(raw)

	if item.Title != "" && !strings.Contains(text, item.Title) {
		text = item.Title + "\n\n" + text
	}

	return strings.TrimSpace(text)
}

// itemPhoto prefers an image enclosure, then the item image, then the
// first <img> in the body.
func itemPhoto(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	raw := item.Content
	if raw == "" {
		raw = item.Description
	}
	if raw == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return src
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
