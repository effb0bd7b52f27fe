package mikrowisp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"wispfetch/internal/assert"
	"wispfetch/internal/browser"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
	"wispfetch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("wispfetch/internal/scrapers/mikrowisp")

const (
	report_extractor_filter   = "extractor.filter"
	report_extractor_show_all = "extractor.show-all"
	report_extractor_columns  = "extractor.columns"
	report_extractor_paginate = "extractor.paginate"
)

// showAllMaxLen keeps the show-all match on short menu entries.
const showAllMaxLen = 20

type ExtractState int

const (
	StateIdle ExtractState = iota
	StateFilterApplied
	StateAllRowsShown
	StateColumnsVerified
	StateExtracted
)

func (s ExtractState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFilterApplied:
		return "filter-applied"
	case StateAllRowsShown:
		return "all-rows-shown"
	case StateColumnsVerified:
		return "columns-verified"
	case StateExtracted:
		return "extracted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Extractor turns a billing listing into records for one date.
type Extractor struct {
	page     browser.Page
	nav      *Navigator
	portal   PortalConfig
	timeouts Timeouts
	tel      telemetry.API
	state    ExtractState
}

func NewExtractor(page browser.Page, nav *Navigator, portal PortalConfig, timeouts Timeouts, tel telemetry.API) *Extractor {
	assert.NotNil(page, "page")
	assert.NotNil(nav, "navigator")
	return &Extractor{
		page:     page,
		nav:      nav,
		portal:   portal,
		timeouts: timeouts,
		tel:      telemetry.NewScopedAPI("mikrowisp", tel),
	}
}

// State is where the last Records call got to.
func (e *Extractor) State() ExtractState {
	return e.state
}

func (e *Extractor) advance(to ExtractState) {
	if to != e.state+1 {
		panic(fmt.Sprintf("extractor: invalid transition %s -> %s", e.state, to))
	}
	e.state = to
}

// Records filters the current listing to date, makes every row visible and
// returns the rows that are records of that date. The page must already show
// the section's listing.
func (e *Extractor) Records(ctx context.Context, section Section, date time.Time) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "Extractor.Records")
	defer span.End()
	span.SetAttributes(
		attribute.String("section", string(section)),
		attribute.String("date", date.Format(DateLayout)),
	)

	cfg, err := e.portal.Section(section)
	if err != nil {
		return nil, err
	}
	number, err := regexp.Compile(cfg.RecordNumberPattern)
	if err != nil {
		return nil, fmt.Errorf("record number pattern: %w", err)
	}

	if err := e.prepare(ctx, cfg, date); err != nil {
		return nil, err
	}

	records, err := e.extract(ctx, cfg, recordFilter{
		number:      number,
		requireLink: cfg.RequireLink,
		date:        date.Format(DateLayout),
	})
	if err != nil {
		return nil, err
	}
	e.advance(StateExtracted)

	span.SetAttributes(attribute.Int("records", len(records)))
	e.tel.ReportInfo("records extracted", section, len(records))
	return records, nil
}

// Prepare brings a freshly opened listing to the state records were read in:
// filtered to date, every row shown, record numbers visible. It is how the
// listing is rebuilt after the page navigated away.
func (e *Extractor) Prepare(ctx context.Context, section Section, date time.Time) error {
	cfg, err := e.portal.Section(section)
	if err != nil {
		return err
	}
	return e.prepare(ctx, cfg, date)
}

func (e *Extractor) prepare(ctx context.Context, cfg SectionConfig, date time.Time) error {
	e.state = StateIdle

	if err := e.applyFilter(ctx, cfg, date); err != nil {
		return err
	}
	e.advance(StateFilterApplied)

	e.showAll(ctx, cfg)
	e.advance(StateAllRowsShown)

	e.ensureColumn(ctx, cfg, FieldRecordNumber)
	e.advance(StateColumnsVerified)
	return nil
}

func (e *Extractor) applyFilter(ctx context.Context, cfg SectionConfig, date time.Time) error {
	if cfg.StatusFilter != "" {
		e.selectStatus(ctx, cfg.StatusFilter)
	}

	doc, err := snapshot(ctx, e.page)
	if err != nil {
		return err
	}
	inputs := doc.Find(cfg.DateInputs)
	if inputs.Length() < 2 {
		return &SelectorMismatch{What: "date inputs " + cfg.DateInputs, Found: inputs.Length(), Want: 2}
	}
	from := htmlutil.CSSPath(inputs.Eq(0))
	to := htmlutil.CSSPath(inputs.Eq(1))

	value := date.Format(DateLayout)
	for _, selector := range []string{from, to} {
		if err := e.page.SetValue(ctx, selector, value); err != nil {
			return fmt.Errorf("set date filter %s: %w", selector, err)
		}
	}

	// the datepicker overlay swallows clicks on the search control
	if err := e.page.Press(ctx, "", browser.KeyEscape); err != nil {
		e.tel.ReportWarning(report_extractor_filter, fmt.Errorf("close datepicker: %w", err))
	}
	if err := e.page.Click(ctx, "body"); err != nil {
		e.tel.ReportWarning(report_extractor_filter, fmt.Errorf("close datepicker: %w", err))
	}

	loc, clicked, err := clickControl(ctx, e.page, Control{
		Role:    `button, a, input[type="submit"], input[type="button"], i`,
		Labels:  e.portal.Vocabulary.Search,
		Classes: e.portal.Vocabulary.SearchClasses,
	})
	if err != nil {
		e.tel.ReportWarning(report_extractor_filter, fmt.Errorf("click search: %w", err))
	}
	if clicked {
		e.tel.ReportDebug("search submitted", loc.Mode.String(), loc.Text)
	} else {
		if err := e.page.Press(ctx, to, browser.KeyEnter); err != nil {
			return fmt.Errorf("submit date filter: %w", err)
		}
		e.tel.ReportDebug("search submitted with enter")
	}

	e.nav.Settle(ctx)
	return ctx.Err()
}

// selectStatus picks the status option labelled label in whichever select
// offers it. Not finding one only costs precision, the date filter still applies.
func (e *Extractor) selectStatus(ctx context.Context, label string) {
	doc, err := snapshot(ctx, e.page)
	if err != nil {
		e.tel.ReportWarning(report_extractor_filter, err)
		return
	}

	want := htmlutil.Fold(label)
	var selector, value string
	// exact labels first so "Pagadas" never picks "No pagadas"
	for _, matches := range []func(string) bool{
		func(text string) bool { return text == want },
		func(text string) bool { return strings.Contains(text, want) },
	} {
		doc.Find("select option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
			if !matches(htmlutil.Fold(htmlutil.CleanText(opt))) {
				return true
			}
			selector = htmlutil.CSSPath(opt.ParentsFiltered("select").First())
			value = opt.AttrOr("value", htmlutil.CleanText(opt))
			return false
		})
		if selector != "" {
			break
		}
	}
	if selector == "" {
		e.tel.ReportWarning(report_extractor_filter, "status select not found", label)
		return
	}
	if err := e.page.SetValue(ctx, selector, value); err != nil {
		e.tel.ReportWarning(report_extractor_filter, fmt.Errorf("select status %q: %w", label, err))
		return
	}
	_ = chrono.Sleep(ctx, e.timeouts.AfterClick)
}

// showAll switches the listing to a single page with every row. Failing is
// only a warning: pagination still reaches every row.
func (e *Extractor) showAll(ctx context.Context, cfg SectionConfig) {
	doc, err := snapshot(ctx, e.page)
	if err != nil {
		e.tel.ReportWarning(report_extractor_show_all, err)
		return
	}
	button := doc.Find(e.portal.Selectors.PageLength).First()
	if button.Length() == 0 && cfg.TableID != "" {
		// every DataTables button controls the table, skip the column toggle
		button = doc.Find(fmt.Sprintf(`button[aria-controls="%s"]`, cfg.TableID)).
			NotSelection(doc.Find(e.portal.Selectors.ColVis)).
			First()
	}
	if button.Length() == 0 {
		e.tel.ReportWarning(report_extractor_show_all, "page length control not found")
		return
	}
	if err := e.page.Click(ctx, htmlutil.CSSPath(button)); err != nil {
		e.tel.ReportWarning(report_extractor_show_all, fmt.Errorf("open page length menu: %w", err))
		return
	}
	if chrono.Sleep(ctx, e.timeouts.AfterClick) != nil {
		return
	}

	option := Control{
		Role:      e.portal.Selectors.DropdownItems,
		Labels:    e.portal.Vocabulary.ShowAll,
		ExactOnly: true,
		MaxLen:    showAllMaxLen,
	}
	loc, clicked, err := clickControl(ctx, e.page, option)
	if err == nil && !clicked {
		option.Role = ""
		loc, clicked, err = clickControl(ctx, e.page, option)
	}
	if err != nil || !clicked {
		e.tel.ReportWarning(report_extractor_show_all, "show all option not found", err)
		_ = e.page.Press(ctx, "", browser.KeyEscape)
		return
	}

	e.tel.ReportDebug("showing all rows", loc.Text)
	e.nav.Settle(ctx)
}

// ensureColumn makes the column of f visible. It never toggles a column that
// is already shown, so it can be repeated safely.
func (e *Extractor) ensureColumn(ctx context.Context, cfg SectionConfig, f Field) {
	visible := func() bool {
		doc, err := snapshot(ctx, e.page)
		if err != nil {
			return false
		}
		table := doc.Find(cfg.TableSelector())
		return resolveSchema(headerTexts(table), cfg.Columns).has(f)
	}
	if visible() {
		return
	}

	doc, err := snapshot(ctx, e.page)
	if err != nil {
		e.tel.ReportWarning(report_extractor_columns, err)
		return
	}
	button := doc.Find(e.portal.Selectors.ColVis).First()
	if button.Length() == 0 {
		e.tel.ReportWarning(report_extractor_columns, "column visibility control not found", f)
		return
	}
	if err := e.page.Click(ctx, htmlutil.CSSPath(button)); err != nil {
		e.tel.ReportWarning(report_extractor_columns, err)
		return
	}
	if chrono.Sleep(ctx, e.timeouts.AfterClick) != nil {
		return
	}

	doc, err = snapshot(ctx, e.page)
	if err != nil {
		e.tel.ReportWarning(report_extractor_columns, err)
		return
	}
	loc, ok := locate(doc, Control{
		Role:      e.portal.Selectors.DropdownItems,
		Labels:    cfg.Columns[f],
		ExactOnly: true,
	})
	if !ok {
		e.tel.ReportWarning(report_extractor_columns, "column entry not found", f)
	} else if entry := doc.Find(loc.Selector); !toggledOn(entry) {
		if err := e.page.Click(ctx, loc.Selector); err != nil {
			e.tel.ReportWarning(report_extractor_columns, err)
		} else {
			_ = chrono.Sleep(ctx, e.timeouts.AfterClick)
		}
	}

	_ = e.page.Press(ctx, "", browser.KeyEscape)
	if !visible() {
		e.tel.ReportWarning(report_extractor_columns, "column still hidden", f)
	}
}

// toggledOn reports whether a column visibility entry is already active.
func toggledOn(entry *goquery.Selection) bool {
	for _, s := range []*goquery.Selection{entry, entry.ParentsFiltered("a, button, li").First()} {
		if s.Length() == 0 {
			continue
		}
		if s.HasClass("active") || s.HasClass("dt-button-active") || s.AttrOr("aria-pressed", "") == "true" {
			return true
		}
		if _, ok := s.Find(`input[type="checkbox"]`).Attr("checked"); ok {
			return true
		}
	}
	return false
}

// extract parses the table page by page until there is no enabled next
// control, the page cap is hit, or a page repeats the previous one.
func (e *Extractor) extract(ctx context.Context, cfg SectionConfig, filter recordFilter) ([]Record, error) {
	maxPages := e.portal.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}

	var out []Record
	var previous []parsedRow
	for page := 1; ; page++ {
		doc, err := snapshot(ctx, e.page)
		if err != nil {
			return nil, err
		}
		table := doc.Find(cfg.TableSelector())
		if table.Length() == 0 {
			return nil, &SelectorMismatch{What: "table " + cfg.TableSelector(), Found: 0, Want: 1}
		}

		sc := resolveSchema(headerTexts(table), cfg.Columns)
		if !sc.has(FieldRecordNumber) {
			return nil, &SelectorMismatch{What: fmt.Sprintf("%s column", FieldRecordNumber), Found: 0, Want: 1}
		}

		rows := parseRows(table, sc, e.portal.Selectors.RowArtifact)
		for i := range rows {
			rows[i].Page = page
		}
		if page > 1 && samePage(previous, rows) {
			e.tel.ReportWarning(report_extractor_paginate, "next page repeated the previous page", page)
			break
		}
		previous = rows
		out = append(out, filter.apply(rows)...)

		next := doc.Find(e.portal.Selectors.NextPage).First()
		if next.Length() == 0 {
			break
		}
		if page >= maxPages {
			e.tel.ReportWarning(report_extractor_paginate, "page limit reached", maxPages)
			break
		}
		if err := e.page.Click(ctx, htmlutil.CSSPath(next)); err != nil {
			e.tel.ReportWarning(report_extractor_paginate, err)
			break
		}
		e.nav.Settle(ctx)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func samePage(a, b []parsedRow) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i].RecordNumber != b[i].RecordNumber || a[i].ClientID != b[i].ClientID {
			return false
		}
	}
	return true
}
