// Package browser is the capability surface the scraper drives: one
// controllable page with tabs and cookies. Nothing outside this package knows
// which engine is behind it.
package browser

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a selector matches nothing before the context expires.
var ErrNotFound = errors.New("element not found")

type Key string

const (
	KeyEscape Key = "Escape"
	KeyEnter  Key = "Enter"
)

type Cookie struct {
	Name  string
	Value string
}

// TabWaiter blocks until the tab announced by Page.ExpectNewTab opens or ctx is done.
type TabWaiter func(ctx context.Context) (Page, error)

// Page is a single browser tab. Every method is bounded by its context.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// HTML returns a snapshot of the current document.
	HTML(ctx context.Context) (string, error)
	// Eval runs a JS function expression with args and decodes its JSON
	// result into out, out may be nil.
	Eval(ctx context.Context, out any, js string, args ...any) error
	// WaitSelector waits until selector matches, returning ErrNotFound if it
	// never does.
	WaitSelector(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// Type replaces the content of the input matching selector by typing text.
	Type(ctx context.Context, selector, text string) error
	// SetValue assigns the value of the input or select matching selector and
	// dispatches input and change events.
	SetValue(ctx context.Context, selector, value string) error
	// Press sends key to the element matching selector, or to the focused
	// element when selector is empty.
	Press(ctx context.Context, selector string, key Key) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// ExpectNewTab starts observing tabs opened by this page. It must be
	// called before the action that opens the tab.
	ExpectNewTab(ctx context.Context) TabWaiter
	Activate(ctx context.Context) error
	Close(ctx context.Context) error
}

// Browser owns the pages of a single browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Pages(ctx context.Context) ([]Page, error)
	Close() error
}
