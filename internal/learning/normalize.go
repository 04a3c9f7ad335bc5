package learning

import (
	"regexp"
	"strings"
)

// Placeholder tokens substituted into normalized error signatures.
const (
	SelectorToken  = `"SELECTOR"`
	URLToken       = "URL"
	TimestampToken = "TIMESTAMP"
)

var (
	quotedSelectorPattern = regexp.MustCompile(`['"][#.][a-zA-Z0-9_-]+['"]`)
	urlPattern            = regexp.MustCompile(`https?://\S+`)
	hexIDPattern          = regexp.MustCompile(`(\w+)-[a-f0-9]{6,}`)
	isoTimestampPattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
)

// NormalizeError reduces an error message to its signature so that errors
// differing only in a selector, URL, generated id or timestamp compare equal.
// Substitutions run in a fixed order: quoted selectors, URLs, dash-suffixed
// hex ids, ISO timestamps, then whitespace is collapsed.
func NormalizeError(msg string) string {
	if msg == "" {
		return ""
	}
	out := quotedSelectorPattern.ReplaceAllString(msg, SelectorToken)
	out = urlPattern.ReplaceAllString(out, URLToken)
	out = hexIDPattern.ReplaceAllString(out, "${1}-ID")
	out = isoTimestampPattern.ReplaceAllString(out, TimestampToken)
	return whitespacePattern.ReplaceAllString(strings.TrimSpace(out), " ")
}
