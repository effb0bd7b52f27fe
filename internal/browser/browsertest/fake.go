// Package browsertest is an in-memory browser.Browser whose pages serve a
// settable HTML document and let tests script clicks, evals and new tabs.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"wispfetch/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

type Browser struct {
	mu     sync.Mutex
	pages  []*Page
	nextID int
	closed bool

	// OnNewPage scripts pages opened through NewPage before they are returned.
	OnNewPage func(p *Page)
}

func NewBrowser() *Browser {
	return &Browser{}
}

// NewPage implements browser.Browser.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	p := b.Open("about:blank", "")
	if b.OnNewPage != nil {
		b.OnNewPage(p)
	}
	return p, nil
}

// Open adds a page to the browser without going through an opener.
func (b *Browser) Open(url, html string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	p := &Page{
		id:      fmt.Sprintf("page-%d", b.nextID),
		url:     url,
		html:    html,
		browser: b,
		values:  map[string]string{},
		tabs:    make(chan *Page, 8),
	}
	b.pages = append(b.pages, p)
	return p
}

func (b *Browser) Pages(ctx context.Context) ([]browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []browser.Page{}
	for _, p := range b.pages {
		if !p.isClosed() {
			out = append(out, p)
		}
	}
	return out, nil
}

// OpenPages returns every page that has not been closed.
func (b *Browser) OpenPages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Page
	for _, p := range b.pages {
		if !p.isClosed() {
			out = append(out, p)
		}
	}
	return out
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, p := range b.pages {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	}
	return nil
}

func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) activate(target *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pages {
		p.mu.Lock()
		p.active = p == target
		p.mu.Unlock()
	}
}

// Page is a scriptable browser.Page. The handler fields may be set before the
// page is used, they receive the page itself so they can mutate its document.
type Page struct {
	mu      sync.Mutex
	id      string
	url     string
	html    string
	cookies []browser.Cookie
	closed  bool
	active  bool
	values  map[string]string
	clicks  []string
	pressed []string
	typed   []string
	tabs    chan *Page
	browser *Browser

	OnNavigate func(p *Page, url string) error
	OnClick    func(p *Page, selector string) error
	OnPress    func(p *Page, selector string, key browser.Key) error
	// OnEval returns the value the script evaluates to, it is JSON encoded and
	// decoded into the caller's out like a real engine would.
	OnEval func(p *Page, js string, args []any) (any, error)
}

func (p *Page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) ID() string { return p.id }

func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) SetCookies(cookies ...browser.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = cookies
}

// Document parses the current HTML.
func (p *Page) Document() *goquery.Document {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(err)
	}
	return doc
}

// Resolve returns what selector matches in the current document.
func (p *Page) Resolve(selector string) *goquery.Selection {
	return p.Document().Find(selector)
}

// OpenTab simulates this page opening a new tab at url, delivered to the
// waiter returned by ExpectNewTab.
func (p *Page) OpenTab(url, html string) *Page {
	tab := p.browser.Open(url, html)
	p.tabs <- tab
	return tab
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *Page) Pressed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pressed...)
}

func (p *Page) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

func (p *Page) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Page) Closed() bool {
	return p.isClosed()
}

func (p *Page) checkOpen() error {
	if p.isClosed() {
		return fmt.Errorf("page %s is closed", p.id)
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.SetURL(url)
	if p.OnNavigate != nil {
		return p.OnNavigate(p, url)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Eval(ctx context.Context, out any, js string, args ...any) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.OnEval == nil {
		return nil
	}
	value, err := p.OnEval(p, js, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) WaitSelector(ctx context.Context, selector string) error {
	if p.Resolve(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.WaitSelector(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	p.mu.Unlock()
	if p.OnClick != nil {
		return p.OnClick(p, selector)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	if err := p.WaitSelector(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[selector] = text
	p.typed = append(p.typed, selector)
	return nil
}

func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	if err := p.WaitSelector(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[selector] = value
	return nil
}

func (p *Page) Press(ctx context.Context, selector string, key browser.Key) error {
	p.mu.Lock()
	p.pressed = append(p.pressed, string(key))
	p.mu.Unlock()
	if p.OnPress != nil {
		return p.OnPress(p, selector, key)
	}
	return nil
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (p *Page) ExpectNewTab(ctx context.Context) browser.TabWaiter {
	return func(waitCtx context.Context) (browser.Page, error) {
		select {
		case tab := <-p.tabs:
			return tab, nil
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Page) Activate(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.browser.activate(p)
	return nil
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.active = false
	return nil
}
