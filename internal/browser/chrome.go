package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/harrison/webpilot/internal/models"
)

// ChromeConnector attaches to an already running Chrome over the DevTools
// protocol.
type ChromeConnector struct {
	CDPURL         string
	ConnectTimeout time.Duration
	ActionTimeout  time.Duration // bound on element lookups inside Click/Fill/Focus
	HTTPClient     *http.Client
}

// Connect resolves the websocket endpoint and attaches.
func (c *ChromeConnector) Connect(ctx context.Context) (Driver, error) {
	connectTimeout := c.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	wsURL, err := ResolveCDPURL(connectCtx, c.CDPURL, c.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("resolve cdp_url %q: %w", c.CDPURL, err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(browserCtx) }()
	select {
	case err := <-errc:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("attach to chrome: %w", err)
		}
	case <-connectCtx.Done():
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("attach to chrome: %w", connectCtx.Err())
	}

	actionTimeout := c.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}
	d := &chromeDriver{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		actionTimeout: actionTimeout,
		pages:         make(map[target.ID]*chromePage),
	}

	own := chromedp.FromContext(browserCtx).Target.TargetID
	d.pages[own] = &chromePage{id: own, ctx: browserCtx, cancel: browserCancel, actionTimeout: actionTimeout}

	pages, err := d.Pages(ctx)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	// Prefer a tab the user already had open over the blank one we created.
	d.active = d.pages[own]
	for _, p := range pages {
		cp := p.(*chromePage)
		if cp.id == own {
			continue
		}
		if u, err := cp.URL(ctx); err == nil && u != "about:blank" {
			d.active = cp
			break
		}
	}
	return d, nil
}

type chromeDriver struct {
	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	actionTimeout time.Duration
	pages         map[target.ID]*chromePage
	active        *chromePage
	closed        bool
}

func (d *chromeDriver) ActivePage(ctx context.Context) (Page, error) {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()

	if active != nil && active.ctx.Err() == nil {
		return active, nil
	}

	pages, err := d.Pages(ctx)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrPageClosed
	}
	d.mu.Lock()
	d.active = pages[0].(*chromePage)
	d.mu.Unlock()
	return pages[0], nil
}

func (d *chromeDriver) SetActivePage(page Page) error {
	cp, ok := page.(*chromePage)
	if !ok {
		return fmt.Errorf("page %s does not belong to this browser", page.ID())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.pages[cp.id]; !known {
		return fmt.Errorf("page %s does not belong to this browser", cp.id)
	}
	d.active = cp
	return nil
}

func (d *chromeDriver) Pages(ctx context.Context) ([]Page, error) {
	infos, err := chromedp.Targets(d.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[target.ID]bool, len(infos))
	var out []Page
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		seen[info.TargetID] = true
		p, ok := d.pages[info.TargetID]
		if !ok {
			tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(info.TargetID))
			p = &chromePage{id: info.TargetID, ctx: tabCtx, cancel: cancel, actionTimeout: d.actionTimeout}
			d.pages[info.TargetID] = p
		}
		out = append(out, p)
	}
	for id, p := range d.pages {
		if !seen[id] && p.ctx != d.browserCtx {
			p.cancel()
			delete(d.pages, id)
		}
	}
	return out, nil
}

func (d *chromeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed || d.browserCtx.Err() != nil
}

func (d *chromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, p := range d.pages {
		if p.ctx != d.browserCtx {
			p.cancel()
		}
		delete(d.pages, id)
	}
	// Cancelling the remote allocator detaches without killing the user's Chrome.
	d.browserCancel()
	d.allocCancel()
	return nil
}

type chromePage struct {
	id            target.ID
	ctx           context.Context
	cancel        context.CancelFunc
	actionTimeout time.Duration
}

func (p *chromePage) ID() string { return string(p.id) }

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.ctx.Err() != nil {
		return ErrPageClosed
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// element runs an element action, mapping a lookup timeout to ErrElementNotFound.
func (p *chromePage) element(ctx context.Context, selector string, actions ...chromedp.Action) error {
	err := p.run(ctx, p.actionTimeout, actions...)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %q", models.ErrElementNotFound, selector)
	}
	return err
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, p.actionTimeout, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var t string
	err := p.run(ctx, p.actionTimeout, chromedp.Title(&t))
	return t, err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.actionTimeout, chromedp.Navigate(url))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.element(ctx, selector, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.element(ctx, selector,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Focus(ctx context.Context, selector string) error {
	return p.element(ctx, selector, chromedp.Focus(selector, chromedp.ByQuery))
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

func (p *chromePage) PressKey(ctx context.Context, key string) error {
	if named, ok := namedKeys[strings.ToLower(key)]; ok {
		key = named
	}
	return p.run(ctx, p.actionTimeout, chromedp.KeyEvent(key))
}

func (p *chromePage) Evaluate(ctx context.Context, script string, out interface{}) error {
	if out == nil {
		var discard interface{}
		out = &discard
	}
	return p.run(ctx, p.actionTimeout, chromedp.Evaluate(script, out,
		func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
			return params.WithAwaitPromise(true)
		}))
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %q within %s", models.ErrElementNotFound, selector, timeout)
	}
	return err
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	err = p.Evaluate(ctx, fmt.Sprintf("document.querySelector(%s) !== null", quoted), &found)
	return found, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, p.actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

type downloadResult struct {
	guid string
	err  error
}

func (p *chromePage) Download(ctx context.Context, dir string, trigger func(context.Context) error) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	var mu sync.Mutex
	names := make(map[string]string)
	done := make(chan downloadResult, 1)

	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			mu.Lock()
			names[e.GUID] = e.SuggestedFilename
			mu.Unlock()
		case *cdpbrowser.EventDownloadProgress:
			switch e.State {
			case cdpbrowser.DownloadProgressStateCompleted:
				select {
				case done <- downloadResult{guid: e.GUID}:
				default:
				}
			case cdpbrowser.DownloadProgressStateCanceled:
				select {
				case done <- downloadResult{guid: e.GUID, err: errors.New("download canceled by browser")}:
				default:
				}
			}
		}
	})

	behavior := cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(dir).
		WithEventsEnabled(true)
	if err := p.run(ctx, p.actionTimeout, behavior); err != nil {
		return "", fmt.Errorf("enable downloads: %w", err)
	}
	if err := trigger(ctx); err != nil {
		return "", err
	}

	select {
	case res := <-done:
		partial := filepath.Join(dir, res.guid)
		if res.err != nil {
			_ = os.Remove(partial)
			return "", res.err
		}
		mu.Lock()
		name := names[res.guid]
		mu.Unlock()
		if name == "" {
			return partial, nil
		}
		final := filepath.Join(dir, filepath.Base(name))
		if err := os.Rename(partial, final); err != nil {
			_ = os.Remove(partial)
			return "", fmt.Errorf("rename download: %w", err)
		}
		return final, nil
	case <-ctx.Done():
		mu.Lock()
		for guid := range names {
			_ = os.Remove(filepath.Join(dir, guid))
		}
		mu.Unlock()
		return "", ctx.Err()
	}
}
