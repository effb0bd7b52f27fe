package mikrowisp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"wispfetch/internal/browser/browsertest"
	"wispfetch/internal/components/telemetry/telemetrytest"
	"wispfetch/lib/htmlutil"

	"github.com/stretchr/testify/require"
)

// dataTable scripts the DataTables behavior the extractor relies on: the page
// length button opens a menu and "Mostrar todos" closes it.
func dataTable(t *testing.T, l listing) (*browsertest.Page, *telemetrytest.Recorder, *Extractor) {
	t.Helper()
	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/#ajax/facturas", l.html())
	idle(page)
	page.OnClick = func(p *browsertest.Page, selector string) error {
		el := p.Resolve(selector)
		switch {
		case el.HasClass("buttons-page-length"):
			withMenu := l
			withMenu.menu = pageLengthMenu
			p.SetHTML(withMenu.html())
		case strings.TrimSpace(el.Text()) == "Mostrar todos":
			p.SetHTML(l.html())
		}
		return nil
	}

	rec := &telemetrytest.Recorder{}
	nav := NewNavigator(page, testPortal(), testTimeouts(), t.TempDir(), fixedClock, rec)
	return page, rec, NewExtractor(page, nav, testPortal(), testTimeouts(), rec)
}

func recordNumbers(records []Record) []string {
	out := []string{}
	for _, r := range records {
		out = append(out, r.RecordNumber)
	}
	return out
}

func TestRecords(t *testing.T) {
	page, rec, ex := dataTable(t, invoiceListing(fiveInvoices))

	records, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	require.Equal(t, StateExtracted, ex.State())
	require.Equal(t, []string{"1001", "1003", "1004"}, recordNumbers(records))

	inputs := page.Resolve(`input[type="text"]`)
	require.Equal(t, "14/03/2024", page.Value(htmlutil.CSSPath(inputs.Eq(0))))
	require.Equal(t, "14/03/2024", page.Value(htmlutil.CSSPath(inputs.Eq(1))))

	// "Pagadas", never "No pagadas"
	require.Equal(t, "1", page.Value(htmlutil.CSSPath(page.Resolve("select"))))

	var clicked []string
	for _, selector := range page.Clicks() {
		clicked = append(clicked, strings.TrimSpace(page.Resolve(selector).Text()))
	}
	require.Contains(t, clicked, "Buscar")
	require.Contains(t, clicked, "Mostrar 10 filas")
	require.Empty(t, rec.Reports("warning"))
}

func TestRecordsIsRepeatable(t *testing.T) {
	_, _, ex := dataTable(t, invoiceListing(fiveInvoices))

	first, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	second, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPrepareRebuildsListingWithoutReading(t *testing.T) {
	page, _, ex := dataTable(t, invoiceListing(fiveInvoices))

	require.NoError(t, ex.Prepare(context.Background(), Invoices, testDate))
	require.Equal(t, StateColumnsVerified, ex.State())

	inputs := page.Resolve(`input[type="text"]`)
	require.Equal(t, "14/03/2024", page.Value(htmlutil.CSSPath(inputs.Eq(0))))
	require.Equal(t, "1", page.Value(htmlutil.CSSPath(page.Resolve("select"))))

	// a later read starts over from idle
	records, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, StateExtracted, ex.State())
}

func TestRecordsNeedsTwoDateInputs(t *testing.T) {
	l := invoiceListing(fiveInvoices)
	l.dateInputs = 1
	_, _, ex := dataTable(t, l)

	_, err := ex.Records(context.Background(), Invoices, testDate)
	var mismatch *SelectorMismatch
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, 1, mismatch.Found)
	require.Equal(t, 2, mismatch.Want)
	require.Equal(t, StateIdle, ex.State())
}

func TestRecordsWithoutShowAllControl(t *testing.T) {
	l := invoiceListing(fiveInvoices)
	l.controls = ""
	_, rec, ex := dataTable(t, l)

	records, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.True(t, rec.Has("warning", "extractor.show-all"))
	require.False(t, rec.Has("broken", ""))
}

func TestRecordsEmptyDay(t *testing.T) {
	_, _, ex := dataTable(t, invoiceListing(fiveInvoices))

	records, err := ex.Records(context.Background(), Invoices, testDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, StateExtracted, ex.State())
}

func TestRecordsMissingTable(t *testing.T) {
	l := invoiceListing(fiveInvoices)
	l.tableID = "otra-tabla"
	_, _, ex := dataTable(t, l)

	_, err := ex.Records(context.Background(), Invoices, testDate)
	var mismatch *SelectorMismatch
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, StateColumnsVerified, ex.State())
}

func TestEnsureColumnRevealsHiddenColumn(t *testing.T) {
	hidden := invoiceListing(fiveInvoices[:1])
	hidden.headers = []string{"N° CÉDULA", "CLIENTE", "F. PAGADO"}
	hidden.rows = [][]string{{"0911111111", "Ana Pérez", "14/03/2024"}}
	hidden.controls = `<button class="dt-button buttons-colvis">Columnas</button>`
	shown := invoiceListing(fiveInvoices[:1])
	shown.controls = hidden.controls

	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/#ajax/facturas", hidden.html())
	idle(page)
	toggles := 0
	page.OnClick = func(p *browsertest.Page, selector string) error {
		el := p.Resolve(selector)
		switch {
		case el.HasClass("buttons-colvis"):
			menu := hidden
			menu.menu = `<div class="dt-button-collection">
				<a class="dt-button buttons-columnVisibility dt-button-active"><span>N° CÉDULA</span></a>
				<a class="dt-button buttons-columnVisibility"><span>N° FACTURA</span></a>
			</div>`
			p.SetHTML(menu.html())
		case strings.TrimSpace(el.Text()) == "N° FACTURA":
			toggles++
			p.SetHTML(shown.html())
		}
		return nil
	}
	rec := &telemetrytest.Recorder{}
	nav := NewNavigator(page, testPortal(), testTimeouts(), t.TempDir(), fixedClock, rec)
	ex := NewExtractor(page, nav, testPortal(), testTimeouts(), rec)
	cfg := testPortal().Sections[Invoices]

	ex.ensureColumn(context.Background(), cfg, FieldRecordNumber)
	require.Equal(t, 1, toggles)
	require.False(t, rec.Has("warning", "extractor.columns"))

	// already visible, nothing is toggled
	ex.ensureColumn(context.Background(), cfg, FieldRecordNumber)
	require.Equal(t, 1, toggles)
}

func TestToggledOn(t *testing.T) {
	d := doc(t, `<div class="dt-button-collection">
		<a class="dt-button dt-button-active" id="a"><span>Cliente</span></a>
		<a class="dt-button" id="b"><span>Total</span></a>
		<li id="c"><label><input type="checkbox" checked> Estado</label></li>
	</div>`)
	require.True(t, toggledOn(d.Find("#a span")))
	require.False(t, toggledOn(d.Find("#b span")))
	require.True(t, toggledOn(d.Find("#c label")))
}

func pagedListing(page int, next string) listing {
	rows := []invoiceRow{
		{cedula: fmt.Sprint(page), client: "Cliente", number: fmt.Sprintf("%d01", page), paid: "14/03/2024", total: "$1.00", link: true},
		{cedula: fmt.Sprint(page), client: "Cliente", number: fmt.Sprintf("%d02", page), paid: "13/03/2024", total: "$1.00", link: true},
	}
	l := invoiceListing(rows)
	l.controls = ""
	l.next = next
	return l
}

func TestRecordsPaginates(t *testing.T) {
	current := 1
	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/#ajax/facturas", pagedListing(1, enabledNext).html())
	idle(page)
	page.OnClick = func(p *browsertest.Page, selector string) error {
		if strings.TrimSpace(p.Resolve(selector).Text()) != "Siguiente" {
			return nil
		}
		current++
		next := enabledNext
		if current == 3 {
			next = invoiceListing(nil).next
		}
		p.SetHTML(pagedListing(current, next).html())
		return nil
	}
	rec := &telemetrytest.Recorder{}
	nav := NewNavigator(page, testPortal(), testTimeouts(), t.TempDir(), fixedClock, rec)
	ex := NewExtractor(page, nav, testPortal(), testTimeouts(), rec)

	records, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	require.Equal(t, []string{"101", "201", "301"}, recordNumbers(records))
	for i, r := range records {
		require.Equal(t, i+1, r.Page, r.RecordNumber)
	}
	require.False(t, rec.Has("warning", "extractor.paginate"))
}

func TestRecordsPageCap(t *testing.T) {
	current := 1
	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/#ajax/facturas", pagedListing(1, enabledNext).html())
	idle(page)
	page.OnClick = func(p *browsertest.Page, selector string) error {
		if strings.TrimSpace(p.Resolve(selector).Text()) == "Siguiente" {
			current++
			p.SetHTML(pagedListing(current, enabledNext).html())
		}
		return nil
	}
	portal := testPortal()
	portal.MaxPages = 3
	rec := &telemetrytest.Recorder{}
	nav := NewNavigator(page, portal, testTimeouts(), t.TempDir(), fixedClock, rec)
	ex := NewExtractor(page, nav, portal, testTimeouts(), rec)

	records, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.True(t, rec.Has("warning", "extractor.paginate"))
}

func TestRecordsStopsOnRepeatedPage(t *testing.T) {
	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/#ajax/facturas", pagedListing(1, enabledNext).html())
	idle(page)
	rec := &telemetrytest.Recorder{}
	nav := NewNavigator(page, testPortal(), testTimeouts(), t.TempDir(), fixedClock, rec)
	ex := NewExtractor(page, nav, testPortal(), testTimeouts(), rec)

	records, err := ex.Records(context.Background(), Invoices, testDate)
	require.NoError(t, err)
	require.Equal(t, []string{"101"}, recordNumbers(records))
	require.True(t, rec.Has("warning", "extractor.paginate"))
}

func TestInvalidTransitionPanics(t *testing.T) {
	_, _, ex := dataTable(t, invoiceListing(nil))
	require.Panics(t, func() {
		ex.advance(StateExtracted)
	})
}
