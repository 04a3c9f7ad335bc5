// Package browser is the narrow driver surface webpilot automates pages
// through, plus a Session that owns the live connection.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionClosed is returned by a Session after Close.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrPageClosed is returned when the active page went away.
	ErrPageClosed = errors.New("page closed")

	// ErrNoPages is returned when the browser has no open page.
	ErrNoPages = errors.New("no open pages")
)

// Page is one open browser tab.
type Page interface {
	// ID identifies the tab for the lifetime of the driver.
	ID() string
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Focus(ctx context.Context, selector string) error
	PressKey(ctx context.Context, key string) error
	// Evaluate runs script in the page and decodes its JSON result into out.
	// out may be nil when the result is not needed.
	Evaluate(ctx context.Context, script string, out interface{}) error
	// WaitForSelector blocks until selector is present or timeout elapses.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Download arms download capture into dir, runs trigger and waits for
	// the resulting file. It returns the final path.
	Download(ctx context.Context, dir string, trigger func(context.Context) error) (string, error)
}

// Driver is a connected browser.
type Driver interface {
	// ActivePage returns the page actions are directed at.
	ActivePage(ctx context.Context) (Page, error)
	// SetActivePage redirects actions to page, which must belong to this driver.
	SetActivePage(page Page) error
	// Pages lists every open tab.
	Pages(ctx context.Context) ([]Page, error)
	// Closed reports whether the connection is gone.
	Closed() bool
	Close() error
}

// Connector establishes a Driver.
type Connector interface {
	Connect(ctx context.Context) (Driver, error)
}

// Logger is the logging surface used by this package.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
}
