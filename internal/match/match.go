// Package match selects the post to relay from a parsed feed.
package match

import (
	"strings"

	"github.com/ppiankov/postrelay/internal/source"
	"github.com/ppiankov/postrelay/internal/window"
)

// Rule is the pair of conditions a post must satisfy.
type Rule struct {
	Window window.Window
	Marker string // case-sensitive substring of the caption
}

// Matches reports whether p lies in the window and carries the marker.
func (r Rule) Matches(p source.Post) bool {
	return r.Window.Contains(p.PostedAt) && strings.Contains(p.Text, r.Marker)
}

// First returns the first post, in input order, that satisfies the rule.
func First(posts []source.Post, r Rule) (source.Post, bool) {
	for _, p := range posts {
		if r.Matches(p) {
			return p, true
		}
	}
	return source.Post{}, false
}

// Candidates returns every post that satisfies the rule, preserving order.
func Candidates(posts []source.Post, r Rule) []source.Post {
	var out []source.Post
	for _, p := range posts {
		if r.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Reason explains why p does or does not satisfy the rule.
func (r Rule) Reason(p source.Post) string {
	inWindow := r.Window.Contains(p.PostedAt)
	hasMarker := strings.Contains(p.Text, r.Marker)
	switch {
	case inWindow && hasMarker:
		return "match"
	case !inWindow && !hasMarker:
		return "outside window, no marker"
	case !inWindow:
		return "outside window"
	default:
		return "no marker"
	}
}
