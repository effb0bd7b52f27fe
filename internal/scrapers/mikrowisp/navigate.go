package mikrowisp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"wispfetch/internal/assert"
	"wispfetch/internal/browser"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
)

const (
	report_navigator_settle     = "navigator.settle"
	report_navigator_screenshot = "navigator.screenshot"
)

const settlePollInterval = 250 * time.Millisecond

// loadersHiddenScript reports whether every element matching the selector is
// hidden or gone.
const loadersHiddenScript = `(selector) => {
	for (const el of document.querySelectorAll(selector)) {
		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		const visible = style.display !== 'none' &&
			style.visibility !== 'hidden' &&
			el.offsetParent !== null &&
			rect.width > 0 && rect.height > 0;
		if (visible) return false;
	}
	return true;
}`

type Navigator struct {
	page     browser.Page
	portal   PortalConfig
	timeouts Timeouts
	logsDir  string
	clock    chrono.TimeAPI
	tel      telemetry.API
}

func NewNavigator(page browser.Page, portal PortalConfig, timeouts Timeouts, logsDir string, clock chrono.TimeAPI, tel telemetry.API) *Navigator {
	assert.NotNil(page, "page")
	assert.NotNil(clock, "clock")
	return &Navigator{
		page:     page,
		portal:   portal,
		timeouts: timeouts,
		logsDir:  logsDir,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("mikrowisp", tel),
	}
}

// SectionURL replaces the fragment of current with the section's fragment.
func SectionURL(current, fragment string) string {
	if i := strings.Index(current, "#"); i >= 0 {
		current = current[:i]
	}
	return current + fragment
}

// GoTo opens the listing of section from the current admin page.
func (n *Navigator) GoTo(ctx context.Context, section Section) error {
	cfg, err := n.portal.Section(section)
	if err != nil {
		return &NavigationError{Section: section, Err: err}
	}

	current, err := n.page.URL(ctx)
	if err != nil {
		return &NavigationError{Section: section, Err: err}
	}
	target := SectionURL(current, cfg.Fragment)
	n.tel.ReportInfo("opening section", section, target)

	navCtx, cancel := context.WithTimeout(ctx, n.timeouts.Navigation)
	err = n.page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		return &NavigationError{Section: section, URL: target, Err: err}
	}

	n.Settle(ctx)
	return ctx.Err()
}

// Settle waits the fixed post-navigation delay and then until no loader is
// visible. Timing out is only a warning, the page may still be usable.
func (n *Navigator) Settle(ctx context.Context) {
	if chrono.Sleep(ctx, n.timeouts.AfterNavigation) != nil {
		return
	}

	deadline := time.Now().Add(n.timeouts.TableSettle)
	for {
		var idle bool
		err := n.page.Eval(ctx, &idle, loadersHiddenScript, n.portal.Selectors.Loaders)
		if err == nil && idle {
			return
		}
		if time.Now().After(deadline) {
			n.tel.ReportWarning(report_navigator_settle, "loaders still visible", n.timeouts.TableSettle.String(), err)
			return
		}
		if chrono.Sleep(ctx, settlePollInterval) != nil {
			return
		}
	}
}

// Screenshot writes a full page png to <logs>/<name>-<unix>.png.
func (n *Navigator) Screenshot(ctx context.Context, name string) (string, bool) {
	return n.screenshotTo(ctx, fmt.Sprintf("%s-%d.png", name, n.clock.Now().Unix()))
}

// ErrorScreenshot writes <logs>/error-<runID>.png.
func (n *Navigator) ErrorScreenshot(ctx context.Context, runID string) (string, bool) {
	return n.screenshotTo(ctx, fmt.Sprintf("error-%s.png", runID))
}

func (n *Navigator) screenshotTo(ctx context.Context, filename string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, n.timeouts.Element*2)
	defer cancel()

	png, err := n.page.Screenshot(ctx)
	if err != nil {
		n.tel.ReportWarning(report_navigator_screenshot, err)
		return "", false
	}
	if err := os.MkdirAll(n.logsDir, 0755); err != nil {
		n.tel.ReportWarning(report_navigator_screenshot, err)
		return "", false
	}
	path := filepath.Join(n.logsDir, filename)
	if err := os.WriteFile(path, png, 0644); err != nil {
		n.tel.ReportWarning(report_navigator_screenshot, err)
		return "", false
	}
	n.tel.ReportInfo("screenshot saved", path)
	return path, true
}
