package executor

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// Predicates decides what counts as an expiring resource URL and as a
// download control. Hosts match as suffixes of the URL host.
type Predicates struct {
	hosts   []string
	words   []string
	pattern *regexp.Regexp
}

// NewPredicates builds predicates over resource hosts and control words.
func NewPredicates(hosts, words []string) *Predicates {
	p := &Predicates{}
	var quoted []string
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		p.hosts = append(p.hosts, h)
		quoted = append(quoted, regexp.QuoteMeta(h))
	}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			p.words = append(p.words, w)
		}
	}
	if len(quoted) > 0 {
		p.pattern = regexp.MustCompile(`(?i)https?://[^\s"'<>]*(?:` + strings.Join(quoted, "|") + `)[^\s"'<>]*`)
	}
	return p
}

// Hosts returns the configured resource hosts.
func (p *Predicates) Hosts() []string {
	return append([]string(nil), p.hosts...)
}

// LooksLikeExpiringResourceURL reports whether raw points at a resource host.
func (p *Predicates) LooksLikeExpiringResourceURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range p.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// LooksLikeDownloadControl reports whether a control's visible text
// suggests it starts a download.
func (p *Predicates) LooksLikeDownloadControl(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	for _, w := range p.words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// FindResourceURL returns the first resource URL embedded in text, or "".
func (p *Predicates) FindResourceURL(text string) string {
	if p.pattern == nil {
		return ""
	}
	for _, m := range p.pattern.FindAllString(text, -1) {
		candidate := strings.TrimRight(html.UnescapeString(m), `\;,)`)
		if p.LooksLikeExpiringResourceURL(candidate) {
			return candidate
		}
	}
	return ""
}
