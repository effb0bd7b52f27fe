package mikrowisp

import (
	"fmt"
	"strings"
	"time"
	"wispfetch/internal/browser/browsertest"
)

func testTimeouts() Timeouts {
	return Timeouts{
		Navigation:       time.Second,
		Element:          100 * time.Millisecond,
		TableSettle:      20 * time.Millisecond,
		NewTab:           50 * time.Millisecond,
		AfterClick:       time.Millisecond,
		AfterNavigation:  time.Millisecond,
		BetweenDownloads: 0,
		LoginSettle:      time.Millisecond,
	}
}

func testPortal() PortalConfig {
	p := DefaultPortal()
	p.LoginURL = "https://isp.example/admin/login"
	return p
}

var invoiceHeaders = []string{"N° CÉDULA", "CLIENTE", "N° FACTURA", "F. EMITIDO", "F. PAGADO", "TOTAL", "ESTADO", ""}

type invoiceRow struct {
	cedula, client, number, issued, paid, total string
	link                                        bool
}

func (r invoiceRow) cells() []string {
	number := r.number
	if r.link {
		number = fmt.Sprintf(`<a href="#ajax/factura/%s">%s</a>`, r.number, r.number)
	}
	return []string{
		r.cedula, r.client, number, r.issued, r.paid, r.total, "Pagada",
		`<button title="Imprimir"><i class="fa fa-print"></i></button>`,
	}
}

// fiveInvoices has three records on 14/03/2024: 1001, 1003 (only issued) and 1004.
var fiveInvoices = []invoiceRow{
	{cedula: "0911111111", client: "Ana Pérez", number: "1001", issued: "01/03/2024", paid: "14/03/2024", total: "$20.00", link: true},
	{cedula: "0922222222", client: "Luis Mora", number: "1002", issued: "01/03/2024", paid: "13/03/2024", total: "$25.00", link: true},
	{cedula: "0933333333", client: "Sin Número", number: "ABC", issued: "01/03/2024", paid: "14/03/2024", total: "$30.00", link: true},
	{cedula: "0944444444", client: "María José", number: "1003", issued: "14/03/2024", paid: "", total: "$15.50", link: true},
	{cedula: "0955555555", client: "Pedro Gil", number: "1004", issued: "02/03/2024", paid: "14/03/2024", total: "$40.00", link: true},
}

type listing struct {
	tableID  string
	headers  []string
	rows     [][]string
	controls string
	// dateInputs is the number of text inputs in the filter bar.
	dateInputs int
	next       string
	// menu is an open button collection, DataTables appends it to the body.
	menu string
}

func (l listing) html() string {
	var b strings.Builder
	b.WriteString(`<html><head><title>MikroWISP</title></head><body><div class="filters">`)
	b.WriteString(`<select name="estado"><option value="0">Todas</option><option value="2">No pagadas</option><option value="1">Pagadas</option></select>`)
	for i := 0; i < l.dateInputs; i++ {
		fmt.Fprintf(&b, `<input type="text" class="datepicker" name="fecha%d">`, i)
	}
	b.WriteString(`<button class="btn btn-primary">Buscar</button></div>`)
	b.WriteString(`<div class="dt-buttons">`)
	b.WriteString(l.controls)
	b.WriteString(`</div>`)
	fmt.Fprintf(&b, `<table id="%s"><thead><tr>`, l.tableID)
	for _, h := range l.headers {
		fmt.Fprintf(&b, "<th>%s</th>", h)
	}
	b.WriteString(`</tr></thead><tbody>`)
	for _, row := range l.rows {
		b.WriteString("<tr>")
		for _, c := range row {
			fmt.Fprintf(&b, "<td>%s</td>", c)
		}
		b.WriteString("</tr>")
	}
	b.WriteString(`</tbody></table><div class="dataTables_paginate">`)
	b.WriteString(l.next)
	b.WriteString(`</div>`)
	b.WriteString(l.menu)
	b.WriteString(`</body></html>`)
	return b.String()
}

func invoiceListing(rows []invoiceRow) listing {
	l := listing{
		tableID:    "facturas-cliente",
		headers:    invoiceHeaders,
		dateInputs: 2,
		controls:   `<button class="dt-button buttons-page-length" aria-controls="facturas-cliente"><span>Mostrar 10 filas</span></button>`,
		next:       `<ul class="pagination"><li class="paginate_button next disabled"><a href="#">Siguiente</a></li></ul>`,
	}
	for _, r := range rows {
		l.rows = append(l.rows, r.cells())
	}
	return l
}

const pageLengthMenu = `<div class="dt-button-collection"><div role="menu">
	<a class="dt-button button-page-length"><span>10 filas</span></a>
	<a class="dt-button button-page-length"><span>Mostrar todos</span></a>
</div></div>`

var testDate = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

// idle makes Settle see no visible loader.
func idle(p *browsertest.Page) {
	p.OnEval = func(*browsertest.Page, string, []any) (any, error) {
		return true, nil
	}
}

const enabledNext = `<ul class="pagination"><li class="paginate_button next"><a href="#">Siguiente</a></li></ul>`
