// Package privacy scrubs secrets from text before it is logged or stored.
package privacy

import (
	"fmt"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Secrets returns patterns matching each non-empty literal value.
func Secrets(values ...string) ([]*regexp.Regexp, error) {
	var patterns []string
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		patterns = append(patterns, regexp.QuoteMeta(v))
	}
	return Compile(patterns)
}

// Apply replaces all matches of the compiled patterns in text with [REDACTED].
func Apply(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
