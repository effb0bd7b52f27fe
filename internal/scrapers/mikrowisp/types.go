package mikrowisp

import (
	"fmt"
	"time"
)

// Section is a billing listing of the admin panel.
type Section string

const (
	Invoices     Section = "invoices"
	Transactions Section = "transactions"
)

// ParseSection validates a section name from the command line or the config.
func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case Invoices, Transactions:
		return Section(s), nil
	}
	return "", fmt.Errorf("unknown section %q (want %q or %q)", s, Invoices, Transactions)
}

// Field names a Record attribute that is read from a table column.
type Field string

const (
	FieldRecordNumber   Field = "recordNumber"
	FieldClientID       Field = "clientId"
	FieldType           Field = "type"
	FieldClientName     Field = "clientName"
	FieldIssueDate      Field = "issueDate"
	FieldDueDate        Field = "dueDate"
	FieldPaidDate       Field = "paidDate"
	FieldTotal          Field = "total"
	FieldBalance        Field = "balance"
	FieldPaymentMethod  Field = "paymentMethod"
	FieldIdentification Field = "identification"
	FieldStatus         Field = "status"
)

// DateLayout is how the portal renders dates.
const DateLayout = "02/01/2006"

// Record is one row of a billing listing.
type Record struct {
	RecordNumber   string
	ClientID       string
	ClientName     string
	Identification string
	Type           string
	IssueDate      string
	DueDate        string
	PaidDate       string
	Total          string
	Balance        string
	PaymentMethod  string
	Status         string
	// RowIndex is the position in the rendered table body, only valid until
	// the table reloads.
	RowIndex int
	// Page is the 1-based listing page the record was read from.
	Page int

	HasDownloadableArtifact bool
}

// DateField is the date a record is filtered and named by: the paid date,
// or the issue date for records that were never paid.
func (r Record) DateField() string {
	if r.PaidDate != "" {
		return r.PaidDate
	}
	return r.IssueDate
}

// SectionConfig describes one billing listing of the portal.
type SectionConfig struct {
	// Fragment is the hash route of the listing, ex. "#ajax/facturas".
	Fragment string `json:"fragment"`
	// TableID is the id of the DataTables table.
	TableID string `json:"table_id"`
	// Columns maps every field to the header texts it may appear under.
	Columns map[Field][]string `json:"columns"`
	// RecordNumberPattern is the regexp a record number must match.
	RecordNumberPattern string `json:"record_number_pattern"`
	// RequireLink rejects rows whose record number cell has no link.
	RequireLink bool `json:"require_link"`
	// StatusFilter is the option label of the status select, empty to skip.
	StatusFilter string `json:"status_filter"`
	DateInputs   string `json:"date_inputs"`
}

func (s SectionConfig) TableSelector() string {
	return "table#" + s.TableID
}

// Selectors are the CSS selectors of the portal controls that have no
// stable label.
type Selectors struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Loaders  string `json:"loaders"`
	// PageLength is the DataTables page length button, the table's
	// aria-controls button is tried as well.
	PageLength string `json:"page_length"`
	ColVis     string `json:"colvis"`
	// DropdownItems are the entries of an open DataTables button collection.
	DropdownItems string `json:"dropdown_items"`
	NextPage      string `json:"next_page"`
	PrevPage      string `json:"prev_page"`
	// PageNumbers are the numbered pagination controls.
	PageNumbers string `json:"page_numbers"`
	// CurrentPage is the numbered control of the page being shown.
	CurrentPage string `json:"current_page"`
	// RowArtifact matches a print/pdf control inside a row.
	RowArtifact string `json:"row_artifact"`
}

// Vocabulary holds the visible labels controls are found by, matched
// without case or accents.
type Vocabulary struct {
	Submit        []string `json:"submit"`
	Logout        []string `json:"logout"`
	Search        []string `json:"search"`
	SearchClasses []string `json:"search_classes"`
	ShowAll       []string `json:"show_all"`
}

// PortalConfig is every DOM convention of the portal. None of it is code.
type PortalConfig struct {
	LoginURL string `json:"login_url"`
	// AuthenticatedMarker is a URL fragment only present once logged in.
	AuthenticatedMarker string                    `json:"authenticated_marker"`
	LoginMarker         string                    `json:"login_marker"`
	UserAgent           string                    `json:"user_agent"`
	Selectors           Selectors                 `json:"selectors"`
	Vocabulary          Vocabulary                `json:"vocabulary"`
	Sections            map[Section]SectionConfig `json:"sections"`
	// MaxPages bounds pagination of a listing.
	MaxPages int `json:"max_pages"`
	// VerifyPDF requires downloaded artifacts to start with the PDF magic.
	VerifyPDF bool `json:"verify_pdf"`
}

// Section returns the listing configuration of s.
func (c PortalConfig) Section(s Section) (SectionConfig, error) {
	cfg, ok := c.Sections[s]
	if !ok {
		return SectionConfig{}, fmt.Errorf("section %q is not configured", s)
	}
	return cfg, nil
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Timeouts bound every wait of a run.
type Timeouts struct {
	Navigation       time.Duration
	Element          time.Duration
	TableSettle      time.Duration
	NewTab           time.Duration
	AfterClick       time.Duration
	AfterNavigation  time.Duration
	BetweenDownloads time.Duration
	LoginSettle      time.Duration
}

// DefaultTimeouts suit a slow portal over a residential link.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:       90 * time.Second,
		Element:          5 * time.Second,
		TableSettle:      10 * time.Second,
		NewTab:           8 * time.Second,
		AfterClick:       2 * time.Second,
		AfterNavigation:  3 * time.Second,
		BetweenDownloads: time.Second,
		LoginSettle:      5 * time.Second,
	}
}

// RetryPolicy doubles Delay after every failed attempt of a record.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second}
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultPortal is the MikroWISP admin panel as deployed at the time of writing.
func DefaultPortal() PortalConfig {
	return PortalConfig{
		AuthenticatedMarker: "/admin",
		LoginMarker:         "/login",
		UserAgent:           DefaultUserAgent,
		Selectors: Selectors{
			Username:      `input[name="mail"]`,
			Password:      `input[name="password"]`,
			Loaders:       `[class*="spinner"], [class*="loader"], [class*="loading"]`,
			PageLength:    `button.buttons-page-length, button[class*="buttons-page-length"]`,
			ColVis:        `button.buttons-colvis, button[class*="buttons-colvis"]`,
			DropdownItems: `.dt-button-collection a, .dt-button-collection button, .dt-button-collection span, .dt-button-collection li`,
			NextPage:      `li.paginate_button.next:not(.disabled) > a, a.paginate_button.next:not(.disabled), button:has(i[class*="chevron-right"])`,
			PrevPage:      `li.paginate_button.previous:not(.disabled) > a, a.paginate_button.previous:not(.disabled), button:has(i[class*="chevron-left"])`,
			PageNumbers:   `li.paginate_button:not(.previous):not(.next) > a, a.paginate_button:not(.previous):not(.next)`,
			CurrentPage:   `li.paginate_button.active > a, a.paginate_button.current`,
			RowArtifact:   `button[title*="Imprimir"], button[title*="PDF"], a[title*="Imprimir"], a[title*="PDF"]`,
		},
		Vocabulary: Vocabulary{
			Submit:        []string{"Ingresar", "Login"},
			Logout:        []string{"logout", "cerrar sesión", "salir"},
			Search:        []string{"Buscar", "Filtrar", "Search", "Filter"},
			SearchClasses: []string{"fa-search", "glyphicon-search", "search"},
			ShowAll:       []string{"Mostrar todos", "Todos", "All"},
		},
		Sections: map[Section]SectionConfig{
			Invoices: {
				Fragment: "#ajax/facturas",
				TableID:  "facturas-cliente",
				Columns: map[Field][]string{
					FieldRecordNumber:   {"N° Factura", "Nº Factura", "# Factura", "Factura"},
					FieldClientID:       {"N° Cédula", "Nº Cédula", "Cédula"},
					FieldType:           {"Tipo"},
					FieldClientName:     {"Cliente"},
					FieldIssueDate:      {"F. Emitido", "Emitido"},
					FieldDueDate:        {"F. Vencimiento", "Vencimiento"},
					FieldPaidDate:       {"F. Pagado", "Pagado"},
					FieldTotal:          {"Total"},
					FieldBalance:        {"Saldo"},
					FieldPaymentMethod:  {"Forma de Pago"},
					FieldIdentification: {"N° Identificación", "Identificación"},
					FieldStatus:         {"Estado"},
				},
				RecordNumberPattern: `^\d+$`,
				StatusFilter:        "Pagadas",
				DateInputs:          `input[type="text"]`,
			},
			Transactions: {
				Fragment: "#ajax/transacciones",
				TableID:  "list-pago-cliente",
				Columns: map[Field][]string{
					FieldRecordNumber:  {"# Factura", "N° Factura", "Factura"},
					FieldClientName:    {"Cliente"},
					FieldClientID:      {"ID"},
					FieldTotal:         {"Cobrado"},
					FieldPaidDate:      {"Fecha & Hora", "Fecha y Hora", "Fecha"},
					FieldPaymentMethod: {"Forma de Pago", "Método"},
				},
				RecordNumberPattern: `^\S+$`,
				RequireLink:         true,
				DateInputs:          `input[type="text"]`,
			},
		},
		MaxPages:  100,
		VerifyPDF: true,
	}
}
