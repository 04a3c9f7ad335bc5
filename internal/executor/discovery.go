package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/harrison/webpilot/internal/browser"
)

// DiscoveryStage names where an expiring resource URL was found.
type DiscoveryStage string

const (
	StageDirect      DiscoveryStage = "direct"       // a tab is already at the URL
	StageEmbedded    DiscoveryStage = "embedded"     // inside a tab's document
	StageGlobals     DiscoveryStage = "globals"      // in a page-global variable
	StageButtonClick DiscoveryStage = "button_click" // appeared after clicking a download control
	StageNotFound    DiscoveryStage = "not_found"
)

// Discovery is the outcome of a resource search.
type Discovery struct {
	URL     string
	Stage   DiscoveryStage
	PageID  string
	Message string
}

// Found reports whether a URL was located.
func (d *Discovery) Found() bool {
	return d != nil && d.URL != ""
}

// PageLister lists open tabs. *browser.Session satisfies it.
type PageLister interface {
	Pages(ctx context.Context) ([]browser.Page, error)
}

var dataURLAttrs = []string{"data-url", "data-download-url", "data-href", "data-src", "data-source"}

// Discoverer searches open tabs for an expiring resource URL without
// modifying the live DOM. Only stage (c) acts on the page, by clicking a
// download control.
type Discoverer struct {
	predicates *Predicates
	reactDelay time.Duration
	timeout    time.Duration
	logger     Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(predicates *Predicates, reactDelay, timeout time.Duration, logger Logger) *Discoverer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Discoverer{
		predicates: predicates,
		reactDelay: reactDelay,
		timeout:    timeout,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Find runs the discovery stages in order and stops at the first match:
// (a) tab addresses, (b) each other tab's document then its globals,
// (c) clicking download controls and rescanning anchors.
func (d *Discoverer) Find(ctx context.Context, lister PageLister) (*Discovery, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	pages, err := lister.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	logDebug(d.logger, fmt.Sprintf("Searching %d open tabs for an expiring resource", len(pages)))

	var others []browser.Page
	for _, p := range pages {
		u, err := p.URL(ctx)
		if err != nil {
			logDebug(d.logger, fmt.Sprintf("Skipping tab %s: %v", p.ID(), err))
			continue
		}
		if d.predicates.LooksLikeExpiringResourceURL(u) {
			return &Discovery{URL: u, Stage: StageDirect, PageID: p.ID(), Message: "Found resource URL in an open tab"}, nil
		}
		others = append(others, p)
	}

	for _, p := range others {
		if found := d.scanPage(ctx, p); found.Found() {
			return found, nil
		}
	}

	for _, p := range others {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resource discovery: %w", err)
		}
		if found := d.clickAndRescan(ctx, p); found.Found() {
			return found, nil
		}
	}

	return &Discovery{Stage: StageNotFound, Message: "No resource URL found in any tab"}, nil
}

// scanPage is stage (b) for one tab.
func (d *Discoverer) scanPage(ctx context.Context, page browser.Page) *Discovery {
	html, err := page.HTML(ctx)
	if err != nil {
		logDebug(d.logger, fmt.Sprintf("Could not read tab %s: %v", page.ID(), err))
		return nil
	}
	base, _ := page.URL(ctx)

	if u := d.scanDocument(html, base); u != "" {
		return &Discovery{URL: u, Stage: StageEmbedded, PageID: page.ID(), Message: "Found embedded resource URL in tab content"}
	}

	var fromGlobals string
	if err := page.Evaluate(ctx, globalsScript(d.predicates.Hosts()), &fromGlobals); err != nil {
		logDebug(d.logger, fmt.Sprintf("Globals sweep failed on tab %s: %v", page.ID(), err))
		return nil
	}
	if u := d.predicates.FindResourceURL(fromGlobals); u != "" {
		return &Discovery{URL: u, Stage: StageGlobals, PageID: page.ID(), Message: "Found resource URL in a page global"}
	}
	return nil
}

// scanDocument searches serialized HTML: frames and objects, anchors, data
// attributes, inline scripts, then the raw markup.
func (d *Discoverer) scanDocument(html, base string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return d.predicates.FindResourceURL(html)
	}

	check := func(raw string) string {
		abs := resolveURL(base, raw)
		if d.predicates.LooksLikeExpiringResourceURL(abs) {
			return abs
		}
		return ""
	}

	sources := []struct {
		selector string
		attr     string
	}{
		{"iframe[src]", "src"},
		{"embed[src]", "src"},
		{"object[data]", "data"},
		{"a[href]", "href"},
	}
	for _, src := range sources {
		if u := firstAttr(doc, src.selector, src.attr, check); u != "" {
			return u
		}
	}

	var found string
	doc.Find("[" + strings.Join(dataURLAttrs, "],[") + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range dataURLAttrs {
			if v, ok := s.Attr(attr); ok {
				if u := check(v); u != "" {
					found = u
					return false
				}
			}
		}
		return true
	})
	if found != "" {
		return found
	}

	doc.Find("script:not([src])").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = d.predicates.FindResourceURL(s.Text())
		return found == ""
	})
	if found != "" {
		return found
	}

	return d.predicates.FindResourceURL(html)
}

func firstAttr(doc *goquery.Document, selector, attr string, check func(string) string) string {
	var found string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(attr)
		found = check(v)
		return found == ""
	})
	return found
}

// clickAndRescan is stage (c) for one tab.
func (d *Discoverer) clickAndRescan(ctx context.Context, page browser.Page) *Discovery {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var controls []string
	doc.Find(`button, a, [role="button"], input[type="button"], input[type="submit"]`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			text, _ = s.Attr("value")
		}
		if text == "" {
			text, _ = s.Attr("aria-label")
		}
		if d.predicates.LooksLikeDownloadControl(text) {
			controls = append(controls, cssPath(s))
		}
	})

	for _, selector := range controls {
		logInfo(d.logger, fmt.Sprintf("Clicking download control %s", selector))
		if err := page.Click(ctx, selector); err != nil {
			logDebug(d.logger, fmt.Sprintf("Download control %s: %v", selector, err))
			continue
		}
		if err := d.sleep(ctx, d.reactDelay); err != nil {
			return nil
		}

		after, err := page.HTML(ctx)
		if err != nil {
			continue
		}
		base, _ := page.URL(ctx)
		rescanned, err := goquery.NewDocumentFromReader(strings.NewReader(after))
		if err != nil {
			continue
		}
		u := firstAttr(rescanned, "a[href]", "href", func(raw string) string {
			abs := resolveURL(base, raw)
			if d.predicates.LooksLikeExpiringResourceURL(abs) {
				return abs
			}
			return ""
		})
		if u != "" {
			return &Discovery{URL: u, Stage: StageButtonClick, PageID: page.ID(), Message: "Found resource URL after clicking a download control"}
		}
	}
	return nil
}

var cssIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// cssPath builds a selector that addresses s in the document it was parsed
// from: the nearest ancestor id, then nth-of-type steps.
func cssPath(s *goquery.Selection) string {
	var parts []string
	for n := s; n.Length() > 0; n = n.Parent() {
		tag := goquery.NodeName(n)
		if tag == "" || strings.HasPrefix(tag, "#") {
			break
		}
		if id, ok := n.Attr("id"); ok && cssIdent.MatchString(id) {
			parts = append(parts, "#"+id)
			break
		}
		if tag == "html" {
			parts = append(parts, "html")
			break
		}
		idx := n.PrevAllFiltered(tag).Length() + 1
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", tag, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func resolveURL(base, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if ref.IsAbs() || base == "" {
		return raw
	}
	b, err := url.Parse(base)
	if err != nil {
		return raw
	}
	return b.ResolveReference(ref).String()
}

// globalsScript returns a read-only sweep of window properties. It yields
// the first string (or JSON-serialized object) mentioning a resource host.
func globalsScript(hosts []string) string {
	encoded, _ := json.Marshal(hosts)
	return fmt.Sprintf(`(() => {
  const hosts = %s;
  const hit = (s) => hosts.some((h) => s.includes(h));
  let names = [];
  try { names = Object.getOwnPropertyNames(window); } catch (e) { return ""; }
  for (const name of names) {
    try {
      const value = window[name];
      if (typeof value === "string" && hit(value)) return value;
      if (value && typeof value === "object") {
        const text = JSON.stringify(value);
        if (text && hit(text)) return text;
      }
    } catch (e) {}
  }
  return "";
})()`, encoded)
}
