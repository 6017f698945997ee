package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

const channelFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>news_ch - Telegram Channel</title>
  <item>
    <title>Morning update</title>
    <description><![CDATA[<p>Morning update #digest</p><img src="https://cdn.example.org/a.jpg">]]></description>
    <link>https://t.me/news_ch/100</link>
    <guid>https://t.me/news_ch/100</guid>
    <pubDate>Fri, 16 Oct 2026 15:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Enclosure</title>
    <description>Enclosure post #digest</description>
    <link>https://t.me/news_ch/101</link>
    <enclosure url="https://cdn.example.org/b.jpg" type="image/jpeg" length="100"/>
    <pubDate>Fri, 16 Oct 2026 16:00:00 GMT</pubDate>
  </item>
  <item>
    <title>No date</title>
    <description>undated</description>
    <link>https://t.me/news_ch/102</link>
  </item>
</channel>
</rss>`

func TestNewRSS_RequiresPlaceholder(t *testing.T) {
	if _, err := NewRSS("https://rsshub.example/telegram/channel/", nil); err == nil {
		t.Fatal("expected error for template without {channel}")
	}
	rs, err := NewRSS("https://rsshub.example/telegram/channel/{channel}", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.Name() != "rss" {
		t.Errorf("name = %q, want rss", rs.Name())
	}
}

func TestParseFeed(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(channelFeed)
	if err != nil {
		t.Fatalf("parse feed: %v", err)
	}

	posts := ParseFeed(feed, "news_ch")
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}

	p := posts[0]
	if p.PhotoURL != "https://cdn.example.org/a.jpg" {
		t.Errorf("photo = %q", p.PhotoURL)
	}
	if !strings.Contains(p.Text, "#digest") {
		t.Errorf("text = %q, want marker", p.Text)
	}
	if p.ExternalID != "https://t.me/news_ch/100" {
		t.Errorf("external id = %q", p.ExternalID)
	}
	if want := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC); !p.PostedAt.Equal(want) {
		t.Errorf("posted_at = %v, want %v", p.PostedAt, want)
	}

	if posts[1].PhotoURL != "https://cdn.example.org/b.jpg" {
		t.Errorf("enclosure photo = %q", posts[1].PhotoURL)
	}
	if posts[1].ExternalID != "https://t.me/news_ch/101" {
		t.Errorf("link fallback id = %q", posts[1].ExternalID)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple tags", "<p>hello</p>", "hello"},
		{"entities", "&amp; &lt; &gt;", "& < >"},
		{"empty", "", ""},
		{"no html", "plain #tag", "plain #tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripHTML(tt.input); got != tt.want {
				t.Errorf("stripHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRSSSource_Fetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(channelFeed))
	}))
	defer srv.Close()

	rs, err := NewRSS(srv.URL+"/telegram/channel/{channel}", srv.Client())
	if err != nil {
		t.Fatalf("new rss: %v", err)
	}

	posts, err := rs.Fetch(context.Background(), "@news_ch")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/telegram/channel/news_ch" {
		t.Errorf("path = %q", gotPath)
	}
	if len(posts) != 2 {
		t.Errorf("got %d posts, want 2", len(posts))
	}
}

func TestRSSSource_FetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rs, _ := NewRSS(srv.URL+"/{channel}", srv.Client())
	if _, err := rs.Fetch(context.Background(), "news_ch"); err == nil {
		t.Fatal("expected error for 502")
	}
}
