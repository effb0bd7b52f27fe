package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

type RodOptions struct {
	Headless bool
	// Bin is the chromium binary, empty means rod downloads or finds one.
	Bin string
	// ControlURL attaches to an already running browser instead of launching one.
	ControlURL   string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
}

type RodBrowser struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	userAgent string
}

// LaunchRod starts (or attaches to) chromium. The returned browser is bound to
// ctx: cancelling ctx aborts every in-flight operation.
func LaunchRod(ctx context.Context, opts RodOptions) (*RodBrowser, error) {
	controlURL := opts.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		width, height := opts.WindowWidth, opts.WindowHeight
		if width == 0 || height == 0 {
			width, height = 1920, 1080
		}

		l = launcher.New().
			Context(ctx).
			Headless(opts.Headless).
			Set("disable-blink-features", "AutomationControlled").
			Set("window-size", fmt.Sprintf("%d,%d", width, height)).
			Set("no-sandbox").
			Set("disable-dev-shm-usage")
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	return &RodBrowser{browser: b, launcher: l, userAgent: opts.UserAgent}, nil
}

// NewPage opens a tab with the stealth evasions applied.
func (b *RodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := stealth.Page(b.browser.Context(ctx))
	if err != nil {
		return nil, err
	}
	if b.userAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent})
		if err != nil {
			return nil, err
		}
	}
	return rodPage{page: page}, nil
}

func (b *RodBrowser) Pages(ctx context.Context) ([]Page, error) {
	pages, err := b.browser.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}
	out := make([]Page, len(pages))
	for i, p := range pages {
		out[i] = rodPage{page: p}
	}
	return out, nil
}

func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p rodPage) ID() string {
	return string(p.page.TargetID)
}

func (p rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p rodPage) Eval(ctx context.Context, out any, js string, args ...any) error {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		return nil, err
	}
	return el, nil
}

func (p rodPage) WaitSelector(ctx context.Context, selector string) error {
	_, err := p.element(ctx, selector)
	return err
}

// Click prefers a real mouse click and falls back to a DOM click when the
// element is covered or has no box (dropdown items behind overlays).
func (p rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err = el.Click(proto.InputMouseButtonLeft, 1); err == nil {
		return nil
	}
	_, err = el.Eval(`function () { this.click() }`)
	return err
}

func (p rodPage) Type(ctx context.Context, selector, text string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err = el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

const setValueScript = `(selector, value) => {
	const el = document.querySelector(selector);
	if (!el) return false;
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

func (p rodPage) SetValue(ctx context.Context, selector, value string) error {
	var ok bool
	if err := p.Eval(ctx, &ok, setValueScript, selector, value); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return nil
}

var rodKeys = map[Key]input.Key{
	KeyEscape: input.Escape,
	KeyEnter:  input.Enter,
}

func (p rodPage) Press(ctx context.Context, selector string, key Key) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if selector != "" {
		el, err := p.element(ctx, selector)
		if err != nil {
			return err
		}
		if err = el.Focus(); err != nil {
			return err
		}
	}
	return p.page.Context(ctx).Keyboard.Type(k)
}

func (p rodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	cookies, err := p.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = Cookie{Name: c.Name, Value: c.Value}
	}
	return out, nil
}

func (p rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// ExpectNewTab subscribes to target creation now. The subscription lives until
// the waiter returns or ctx is done.
func (p rodPage) ExpectNewTab(ctx context.Context) TabWaiter {
	subCtx, cancel := context.WithCancel(ctx)
	wait := p.page.Context(subCtx).WaitOpen()

	return func(waitCtx context.Context) (Page, error) {
		defer cancel()

		type result struct {
			page *rod.Page
			err  error
		}
		done := make(chan result, 1)
		go func() {
			page, err := wait()
			done <- result{page: page, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			return rodPage{page: r.page}, nil
		case <-waitCtx.Done():
			cancel()
			return nil, waitCtx.Err()
		}
	}
}

func (p rodPage) Activate(ctx context.Context) error {
	_, err := p.page.Context(ctx).Activate()
	return err
}

func (p rodPage) Close(ctx context.Context) error {
	return p.page.Context(ctx).Close()
}
