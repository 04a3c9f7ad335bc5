package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/harrison/webpilot/internal/browser"
	"github.com/harrison/webpilot/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signed = "https://bucket.s3.us-east-1.amazonaws.com/forms/941.pdf?X-Amz-Signature=abc123"

type pageList []browser.Page

func (l pageList) Pages(context.Context) ([]browser.Page, error) { return l, nil }

func newTestDiscoverer() *Discoverer {
	d := NewDiscoverer(NewPredicates([]string{"amazonaws.com"}, []string{"download"}), time.Second, time.Minute, nil)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestPredicates(t *testing.T) {
	p := NewPredicates([]string{"amazonaws.com", " Storage.GoogleAPIs.com "}, []string{"Download", "export"})

	urls := []struct {
		url  string
		want bool
	}{
		{signed, true},
		{"https://amazonaws.com/x", true},
		{"https://storage.googleapis.com/b/o?sig=1", true},
		{"https://amazonaws.com.evil.io/x", false},
		{"https://example.com/?next=amazonaws.com", false},
		{"ftp://bucket.s3.amazonaws.com/x", false},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range urls {
		assert.Equal(t, tt.want, p.LooksLikeExpiringResourceURL(tt.url), tt.url)
	}

	assert.True(t, p.LooksLikeDownloadControl("  Download PDF "))
	assert.True(t, p.LooksLikeDownloadControl("Export to CSV"))
	assert.False(t, p.LooksLikeDownloadControl("Upload"))
	assert.False(t, p.LooksLikeDownloadControl(""))

	text := `var cfg = {file: "` + strings.ReplaceAll(signed, "&", "&amp;") + `"};`
	assert.Equal(t, signed, p.FindResourceURL(text))
	assert.Equal(t, "", p.FindResourceURL("https://example.com/only"))
}

func TestFindDirectTab(t *testing.T) {
	pages := pageList{
		browsertest.NewPage("a", "https://portal.example.com"),
		browsertest.NewPage("b", signed),
	}

	found, err := newTestDiscoverer().Find(context.Background(), pages)
	require.NoError(t, err)
	assert.Equal(t, StageDirect, found.Stage)
	assert.Equal(t, signed, found.URL)
	assert.Equal(t, "b", found.PageID)
}

func TestFindEmbeddedSources(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{name: "iframe", html: `<html><body><iframe src="` + signed + `"></iframe></body></html>`},
		{name: "embed", html: `<html><body><embed src="` + signed + `"></body></html>`},
		{name: "object", html: `<html><body><object data="` + signed + `"></object></body></html>`},
		{name: "anchor", html: `<html><body><a href="/home">Home</a><a href="` + signed + `">File</a></body></html>`},
		{name: "data attribute", html: `<html><body><div data-download-url="` + signed + `"></div></body></html>`},
		{name: "inline script", html: `<html><body><script>window.__state = {"pdf":"` + signed + `"};</script></body></html>`},
		{name: "raw markup", html: `<html><body><template><p>` + signed + `</p></template></body></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage("p", "https://portal.example.com/forms")
			page.HTMLValue = tt.html

			found, err := newTestDiscoverer().Find(context.Background(), pageList{page})
			require.NoError(t, err)
			assert.Equal(t, StageEmbedded, found.Stage)
			assert.Equal(t, signed, found.URL)
			for _, call := range page.Calls() {
				assert.False(t, strings.HasPrefix(call, "click"), "discovery must not click when the document already has the URL")
			}
		})
	}
}

func TestFindGlobalsSweep(t *testing.T) {
	page := browsertest.NewPage("p", "https://portal.example.com")
	page.HTMLValue = `<html><body><p>Loading</p></body></html>`
	page.OnEvaluate = func(_ *browsertest.Page, script string) (interface{}, error) {
		require.Contains(t, script, `["amazonaws.com"]`)
		return `{"document":{"url":"` + signed + `","ttl":30}}`, nil
	}

	found, err := newTestDiscoverer().Find(context.Background(), pageList{page})
	require.NoError(t, err)
	assert.Equal(t, StageGlobals, found.Stage)
	assert.Equal(t, signed, found.URL)
}

func TestFindAfterClickingDownloadControl(t *testing.T) {
	page := browsertest.NewPage("p", "https://portal.example.com", "#export")
	page.HTMLValue = `<html><body><button>Cancel</button><button id="export">Download form</button></body></html>`
	page.OnClick = func(p *browsertest.Page, selector string) error {
		p.HTMLValue = `<html><body><a href="` + signed + `">ready</a></body></html>`
		return nil
	}

	found, err := newTestDiscoverer().Find(context.Background(), pageList{page})
	require.NoError(t, err)
	assert.Equal(t, StageButtonClick, found.Stage)
	assert.Equal(t, signed, found.URL)
	assert.Contains(t, page.Calls(), "click #export")
}

func TestFindNothing(t *testing.T) {
	page := browsertest.NewPage("p", "https://portal.example.com")
	page.HTMLValue = `<html><body><a href="https://example.com/a.pdf">A</a></body></html>`

	found, err := newTestDiscoverer().Find(context.Background(), pageList{page})
	require.NoError(t, err)
	assert.False(t, found.Found())
	assert.Equal(t, StageNotFound, found.Stage)
}

func TestCSSPath(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><div></div><div><span>a</span><button>x</button><button>Download</button></div><section id="main"><button>Get</button></section></body></html>`))
	require.NoError(t, err)

	assert.Equal(t, "html > body:nth-of-type(1) > div:nth-of-type(2) > button:nth-of-type(2)", cssPath(doc.Find("button").Eq(1)))
	assert.Equal(t, "#main > button:nth-of-type(1)", cssPath(doc.Find("section button")))
}
