// Package browsertest provides in-memory browser fakes for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrison/webpilot/internal/browser"
	"github.com/harrison/webpilot/internal/models"
)

// Page is a scriptable browser.Page. Elements holds the selectors currently
// present; hooks let a test react to actions (for example, make a success
// selector appear after a click).
type Page struct {
	mu sync.Mutex

	IDValue    string
	URLValue   string
	TitleValue string
	HTMLValue  string
	Elements   map[string]bool
	Closed     bool

	OnClick    func(p *Page, selector string) error
	OnPressKey func(p *Page, key string) error
	OnEvaluate func(p *Page, script string) (interface{}, error)
	OnDownload func(p *Page, dir string) (string, error)

	calls []string
}

// NewPage creates a page at url with the given selectors present.
func NewPage(id, url string, selectors ...string) *Page {
	p := &Page{IDValue: id, URLValue: url, Elements: make(map[string]bool)}
	for _, s := range selectors {
		p.Elements[s] = true
	}
	return p
}

// Calls returns the recorded actions, e.g. "click #submit".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// SetElement adds or removes a selector.
func (p *Page) SetElement(selector string, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements == nil {
		p.Elements = make(map[string]bool)
	}
	p.Elements[selector] = present
}

func (p *Page) record(format string, args ...interface{}) {
	p.mu.Lock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
	p.mu.Unlock()
}

func (p *Page) has(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Elements[selector]
}

func (p *Page) closedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return browser.ErrPageClosed
	}
	return nil
}

func notFound(selector string) error {
	return fmt.Errorf("%w: %q", models.ErrElementNotFound, selector)
}

func (p *Page) ID() string { return p.IDValue }

func (p *Page) URL(context.Context) (string, error) {
	if err := p.closedErr(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URLValue, nil
}

func (p *Page) Title(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleValue, nil
}

func (p *Page) Navigate(_ context.Context, url string) error {
	if err := p.closedErr(); err != nil {
		return err
	}
	p.record("navigate %s", url)
	p.mu.Lock()
	p.URLValue = url
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.record("click %s", selector)
	if !p.has(selector) {
		return notFound(selector)
	}
	if p.OnClick != nil {
		return p.OnClick(p, selector)
	}
	return nil
}

func (p *Page) Fill(_ context.Context, selector, value string) error {
	p.record("fill %s=%s", selector, value)
	if !p.has(selector) {
		return notFound(selector)
	}
	return nil
}

func (p *Page) Focus(_ context.Context, selector string) error {
	p.record("focus %s", selector)
	if !p.has(selector) {
		return notFound(selector)
	}
	return nil
}

func (p *Page) PressKey(_ context.Context, key string) error {
	p.record("press %s", key)
	if p.OnPressKey != nil {
		return p.OnPressKey(p, key)
	}
	return nil
}

func (p *Page) Evaluate(_ context.Context, script string, out interface{}) error {
	p.record("evaluate")
	var result interface{}
	if p.OnEvaluate != nil {
		v, err := p.OnEvaluate(p, script)
		if err != nil {
			return err
		}
		result = v
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) WaitForSelector(_ context.Context, selector string, timeout time.Duration) error {
	p.record("wait %s", selector)
	if !p.has(selector) {
		return fmt.Errorf("%w: %q within %s", models.ErrElementNotFound, selector, timeout)
	}
	return nil
}

func (p *Page) Exists(_ context.Context, selector string) (bool, error) {
	return p.has(selector), nil
}

func (p *Page) HTML(context.Context) (string, error) {
	if err := p.closedErr(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTMLValue, nil
}

func (p *Page) Download(ctx context.Context, dir string, trigger func(context.Context) error) (string, error) {
	if err := trigger(ctx); err != nil {
		return "", err
	}
	if p.OnDownload != nil {
		return p.OnDownload(p, dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "download.bin")
	return path, os.WriteFile(path, []byte("data"), 0644)
}

// Driver is a browser.Driver over fake pages.
type Driver struct {
	mu        sync.Mutex
	PageList  []*Page
	Active    int
	IsClosed  bool
	CloseHits int
}

// NewDriver creates a driver whose first page is active.
func NewDriver(pages ...*Page) *Driver {
	return &Driver{PageList: pages}
}

func (d *Driver) ActivePage(context.Context) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.PageList) == 0 || d.Active >= len(d.PageList) {
		return nil, browser.ErrNoPages
	}
	p := d.PageList[d.Active]
	if p.closedErr() != nil {
		return nil, browser.ErrPageClosed
	}
	return p, nil
}

func (d *Driver) SetActivePage(page browser.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range d.PageList {
		if p.ID() == page.ID() {
			d.Active = i
			return nil
		}
	}
	return fmt.Errorf("page %s does not belong to this browser", page.ID())
}

func (d *Driver) Pages(context.Context) ([]browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]browser.Page, 0, len(d.PageList))
	for _, p := range d.PageList {
		out = append(out, p)
	}
	return out, nil
}

func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.IsClosed
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.IsClosed = true
	d.CloseHits++
	return nil
}

// Connector hands out drivers in order, repeating the last one.
type Connector struct {
	mu       sync.Mutex
	Drivers  []*Driver
	Err      error
	Connects int
}

// NewConnector creates a connector that returns drivers in order.
func NewConnector(drivers ...*Driver) *Connector {
	return &Connector{Drivers: drivers}
}

func (c *Connector) Connect(context.Context) (browser.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Connects++
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Drivers) == 0 {
		return nil, fmt.Errorf("no fake drivers configured")
	}
	idx := c.Connects - 1
	if idx >= len(c.Drivers) {
		idx = len(c.Drivers) - 1
	}
	d := c.Drivers[idx]
	d.mu.Lock()
	d.IsClosed = false
	d.mu.Unlock()
	return d, nil
}

var (
	_ browser.Page      = (*Page)(nil)
	_ browser.Driver    = (*Driver)(nil)
	_ browser.Connector = (*Connector)(nil)
)
