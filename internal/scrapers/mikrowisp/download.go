package mikrowisp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"time"
	"wispfetch/internal/assert"
	"wispfetch/internal/browser"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
	"wispfetch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_downloader_attempt = "downloader.attempt"
	report_downloader_cleanup = "downloader.cleanup"
	report_downloader_record  = "downloader.record"
)

const cleanupTimeout = 10 * time.Second

type DownloadResult struct {
	Record   Record
	Success  bool
	Filename string
	Err      error
}

type Outcome struct {
	Total         int
	Downloaded    int
	Failed        int
	Successful    []DownloadResult
	FailedResults []DownloadResult
}

type DownloaderOptions struct {
	Browser  browser.Browser
	Main     browser.Page
	Fetcher  *Fetcher
	Section  SectionConfig
	Portal   PortalConfig
	Timeouts Timeouts
	Retry    RetryPolicy
	// Dir receives the artifacts, it must exist.
	Dir string
	// Jitter is added to the pause between records, nil means up to a second.
	Jitter func() time.Duration
	// Navigator settles the listing after it was paged or reloaded, nil
	// only waits the post-navigation delay.
	Navigator *Navigator
	// Restore rebuilds the filtered listing once the main page is back on its
	// URL after an artifact replaced it. nil only waits for the page to settle.
	Restore func(ctx context.Context) error
}

// Downloader fetches the artifact of every record, one at a time, through
// the tab the portal opens for it.
type Downloader struct {
	opts DownloaderOptions
	tel  telemetry.API
}

func NewDownloader(opts DownloaderOptions, tel telemetry.API) *Downloader {
	assert.NotNil(opts.Browser, "browser")
	assert.NotNil(opts.Main, "main page")
	assert.NotNil(opts.Fetcher, "fetcher")
	assert.NotEmptyStr(opts.Dir, "download dir")
	if opts.Jitter == nil {
		opts.Jitter = func() time.Duration {
			return rand.N(time.Second)
		}
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Downloader{opts: opts, tel: telemetry.NewScopedAPI("mikrowisp", tel)}
}

// DownloadAll processes records in order. A failed record is recorded and
// the batch moves on, only ctx cancellation stops it early.
func (d *Downloader) DownloadAll(ctx context.Context, records []Record) Outcome {
	ctx, span := tracer.Start(ctx, "Downloader.DownloadAll")
	defer span.End()

	out := Outcome{Total: len(records)}
	for i, rec := range records {
		if ctx.Err() != nil {
			d.tel.ReportWarning(report_downloader_record, "cancelled", rec.RecordNumber, ctx.Err())
			out.FailedResults = append(out.FailedResults, DownloadResult{Record: rec, Err: ctx.Err()})
			out.Failed++
			continue
		}

		d.tel.ReportInfo(fmt.Sprintf("[%d/%d] processing %s", i+1, len(records), rec.RecordNumber), rec.ClientName)

		filename, err := d.Download(ctx, rec)
		if err != nil {
			d.tel.ReportWarning(report_downloader_record, rec.RecordNumber, err)
			out.FailedResults = append(out.FailedResults, DownloadResult{Record: rec, Err: err})
			out.Failed++
		} else {
			d.tel.ReportInfo("downloaded", rec.RecordNumber, filename)
			out.Successful = append(out.Successful, DownloadResult{Record: rec, Success: true, Filename: filename})
			out.Downloaded++
		}

		if i < len(records)-1 {
			_ = chrono.Sleep(ctx, d.opts.Timeouts.BetweenDownloads+d.opts.Jitter())
		}
	}

	d.tel.ReportCount("downloads.succeeded", int64(out.Downloaded))
	d.tel.ReportCount("downloads.failed", int64(out.Failed))
	span.SetAttributes(
		attribute.Int("total", out.Total),
		attribute.Int("downloaded", out.Downloaded),
		attribute.Int("failed", out.Failed),
	)
	return out
}

// Download retries the single-record protocol with exponential backoff and
// returns the artifact's filename or the last attempt's error.
func (d *Downloader) Download(ctx context.Context, rec Record) (string, error) {
	ctx, span := tracer.Start(ctx, "Downloader.Download")
	defer span.End()
	span.SetAttributes(attribute.String("record", rec.RecordNumber))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.opts.Retry.Delay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = d.opts.Retry.Delay << d.opts.Retry.MaxAttempts
	policy.MaxElapsedTime = 0

	var filename string
	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			name, err := d.attempt(ctx, rec)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			filename = name
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.opts.Retry.MaxAttempts-1)), ctx),
		func(err error, wait time.Duration) {
			d.tel.ReportWarning(report_downloader_attempt, rec.RecordNumber, attempt, err, "retrying in "+wait.String())
		},
	)
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return filename, nil
}

func (d *Downloader) pageIDs(ctx context.Context) map[string]bool {
	pages, err := d.opts.Browser.Pages(ctx)
	if err != nil {
		d.tel.ReportWarning(report_downloader_cleanup, fmt.Errorf("list pages: %w", err))
		return nil
	}
	ids := make(map[string]bool, len(pages))
	for _, p := range pages {
		ids[p.ID()] = true
	}
	return ids
}

// cleanup closes every tab the attempt opened, brings the main page back to
// the front and back to the listing. Tabs are closed on success and failure
// alike, even after ctx ends.
func (d *Downloader) cleanup(ctx context.Context, host browser.Page, baseline map[string]bool, listingURL string) {
	d.closeTabs(ctx, host, baseline)
	d.restore(ctx, listingURL)
}

func (d *Downloader) closeTabs(ctx context.Context, host browser.Page, baseline map[string]bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	main := d.opts.Main
	if host != nil && host.ID() != main.ID() {
		if err := host.Close(ctx); err != nil {
			d.tel.ReportWarning(report_downloader_cleanup, fmt.Errorf("close artifact tab: %w", err))
		}
	}

	if baseline != nil {
		pages, err := d.opts.Browser.Pages(ctx)
		if err != nil {
			d.tel.ReportWarning(report_downloader_cleanup, fmt.Errorf("list pages: %w", err))
		}
		for _, p := range pages {
			if p.ID() == main.ID() || baseline[p.ID()] {
				continue
			}
			if err := p.Close(ctx); err != nil {
				d.tel.ReportWarning(report_downloader_cleanup, fmt.Errorf("close stray tab: %w", err))
			}
		}
	}

	if err := main.Activate(ctx); err != nil {
		d.tel.ReportWarning(report_downloader_cleanup, fmt.Errorf("activate main page: %w", err))
	}
}

// restore navigates the main page back to listingURL when the attempt left
// it elsewhere, so the next record finds its table.
func (d *Downloader) restore(ctx context.Context, listingURL string) {
	if listingURL == "" || ctx.Err() != nil {
		return
	}
	main := d.opts.Main
	current, err := main.URL(ctx)
	if err == nil && current == listingURL {
		return
	}
	d.tel.ReportDebug("returning to the listing", current)

	navCtx, cancel := context.WithTimeout(ctx, d.opts.Timeouts.Navigation)
	err = main.Navigate(navCtx, listingURL)
	cancel()
	if err != nil {
		d.tel.ReportWarning(report_downloader_cleanup, fmt.Errorf("return to listing: %w", err))
		return
	}
	d.settle(ctx)
	if d.opts.Restore == nil {
		return
	}
	if err := d.opts.Restore(ctx); err != nil {
		d.tel.ReportWarning(report_downloader_cleanup, fmt.Errorf("rebuild listing: %w", err))
	}
}

func (d *Downloader) settle(ctx context.Context) {
	if d.opts.Navigator != nil {
		d.opts.Navigator.Settle(ctx)
		return
	}
	_ = chrono.Sleep(ctx, d.opts.Timeouts.AfterNavigation)
}

// attempt is one pass of the protocol: observe tabs, click the record's
// link, pick the artifact host, fetch with the session cookies.
func (d *Downloader) attempt(ctx context.Context, rec Record) (filename string, err error) {
	main := d.opts.Main
	baseline := d.pageIDs(ctx)

	var host browser.Page
	var listingURL string
	defer func() {
		d.cleanup(ctx, host, baseline, listingURL)
	}()

	listingURL, err = main.URL(ctx)
	if err != nil {
		return "", downloadError(DownloadElementNotFound, err)
	}

	observeCtx, stopObserving := context.WithCancel(ctx)
	defer stopObserving()
	waitTab := main.ExpectNewTab(observeCtx)

	if err := d.clickRecord(ctx, rec); err != nil {
		return "", err
	}

	tab, err := chrono.FirstOf[browser.Page](ctx, d.opts.Timeouts.NewTab, waitTab)
	switch {
	case err == nil:
		host = tab
	case errors.Is(err, chrono.ErrTimeout):
		d.tel.ReportDebug("no new tab, using the main page", rec.RecordNumber)
		host = main
	default:
		return "", err
	}

	if err := chrono.Sleep(ctx, d.opts.Timeouts.AfterClick); err != nil {
		return "", err
	}

	url, err := host.URL(ctx)
	if err != nil {
		return "", downloadError(DownloadNewTabTimeout, err)
	}
	if url == "" || url == "about:blank" || (host.ID() == main.ID() && url == listingURL) {
		return "", downloadError(DownloadNewTabTimeout, fmt.Errorf("no artifact url for %s", rec.RecordNumber))
	}

	cookies, err := host.Cookies(ctx)
	if err != nil || len(cookies) == 0 {
		cookies, err = main.Cookies(ctx)
	}
	if err != nil {
		return "", downloadError(DownloadStreamError, fmt.Errorf("read cookies: %w", err))
	}

	filename = Filename(rec)
	err = d.opts.Fetcher.Fetch(ctx, url, CookieHeader(cookies), filepath.Join(d.opts.Dir, filename))
	if err != nil {
		return "", err
	}
	return filename, nil
}

// clickRecord re-resolves the record's row in the live table and clicks its
// link, or its print control when the number is not a link.
func (d *Downloader) clickRecord(ctx context.Context, rec Record) error {
	row, sc, err := d.rowOf(ctx, rec)
	if err != nil {
		return err
	}

	target := row.ChildrenFiltered("td").Eq(sc[FieldRecordNumber]).Find("a").First()
	if target.Length() == 0 && d.opts.Portal.Selectors.RowArtifact != "" {
		target = row.Find(d.opts.Portal.Selectors.RowArtifact).First()
	}
	if target.Length() == 0 {
		return downloadError(DownloadElementNotFound, fmt.Errorf("no link for %s", rec.RecordNumber))
	}

	if err := d.opts.Main.Click(ctx, htmlutil.CSSPath(target)); err != nil {
		return downloadError(DownloadElementNotFound, err)
	}
	return nil
}

// rowOf finds the row of rec in the live table. When the table shows another
// page it is turned back to the page rec was read from.
func (d *Downloader) rowOf(ctx context.Context, rec Record) (*goquery.Selection, schema, error) {
	maxPages := d.opts.Portal.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}

	for turns := 0; ; turns++ {
		doc, err := snapshot(ctx, d.opts.Main)
		if err != nil {
			return nil, nil, downloadError(DownloadElementNotFound, err)
		}
		table := doc.Find(d.opts.Section.TableSelector())
		sc := resolveSchema(headerTexts(table), d.opts.Section.Columns)
		if row := findRow(table, sc, rec); row != nil {
			return row, sc, nil
		}

		if rec.Page < 1 || turns >= maxPages {
			break
		}
		control, ok := d.pageControl(doc, rec.Page)
		if !ok {
			break
		}
		d.tel.ReportDebug("turning the listing", rec.RecordNumber, rec.Page)
		if err := d.opts.Main.Click(ctx, control); err != nil {
			return nil, nil, downloadError(DownloadElementNotFound, fmt.Errorf("turn to page %d: %w", rec.Page, err))
		}
		d.settle(ctx)
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, downloadError(DownloadElementNotFound, fmt.Errorf("row of %s not in table", rec.RecordNumber))
}

// pageControl picks the pagination control that brings the listing closer to
// page: its numbered control, otherwise previous or next from the current one.
func (d *Downloader) pageControl(doc *goquery.Document, page int) (string, bool) {
	sel := d.opts.Portal.Selectors

	current := 0
	if sel.CurrentPage != "" {
		current, _ = strconv.Atoi(htmlutil.CleanText(doc.Find(sel.CurrentPage).First()))
	}
	if current == page {
		return "", false
	}

	if sel.PageNumbers != "" {
		want := strconv.Itoa(page)
		var numbered *goquery.Selection
		doc.Find(sel.PageNumbers).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if htmlutil.CleanText(s) == want {
				numbered = s
				return false
			}
			return true
		})
		if numbered != nil {
			return htmlutil.CSSPath(numbered), true
		}
	}

	if current == 0 {
		return "", false
	}
	step := sel.PrevPage
	if current < page {
		step = sel.NextPage
	}
	if step == "" {
		return "", false
	}
	control := doc.Find(step).First()
	if control.Length() == 0 {
		return "", false
	}
	return htmlutil.CSSPath(control), true
}
