package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"wispfetch/internal/browser"
	"wispfetch/internal/browser/browsertest"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry/telemetrytest"
	"wispfetch/internal/config"
	"wispfetch/internal/db"
	"wispfetch/internal/history"
	"wispfetch/internal/scrapers/mikrowisp"
	"wispfetch/lib/testutil"

	"github.com/stretchr/testify/require"
)

const (
	loginURL = "https://isp.example/admin/login"
	homeURL  = "https://isp.example/admin/#ajax/inicio"
)

const loginForm = `<html><body><form>
	<input type="text" name="mail">
	<input type="password" name="password">
	<button type="submit">Ingresar</button>
</form></body></html>`

type invoice struct {
	cedula, client, number, issued, paid, total string
}

// 1002 is the only one not on 14/03/2024
var invoices = []invoice{
	{"0911111111", "Ana Pérez", "1001", "01/03/2024", "14/03/2024", "$20.00"},
	{"0922222222", "Luis Mora", "1002", "01/03/2024", "13/03/2024", "$25.00"},
	{"0944444444", "María José", "1003", "14/03/2024", "", "$15.50"},
	{"0955555555", "Pedro Gil", "1004", "02/03/2024", "14/03/2024", "$40.00"},
}

func listingHTML(rows []invoice) string {
	var b strings.Builder
	b.WriteString(`<html><body><nav><a class="logout" href="#">Salir</a></nav><div class="filters">`)
	b.WriteString(`<select name="estado"><option value="0">Todas</option><option value="1">Pagadas</option></select>`)
	b.WriteString(`<input type="text" name="desde"><input type="text" name="hasta">`)
	b.WriteString(`<button class="btn">Buscar</button></div>`)
	b.WriteString(`<table id="facturas-cliente"><thead><tr>`)
	for _, h := range []string{"N° CÉDULA", "CLIENTE", "N° FACTURA", "F. EMITIDO", "F. PAGADO", "TOTAL"} {
		fmt.Fprintf(&b, "<th>%s</th>", h)
	}
	b.WriteString(`</tr></thead><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&b,
			`<tr><td>%s</td><td>%s</td><td><a href="#ajax/factura/%s">%s</a></td><td>%s</td><td>%s</td><td>%s</td></tr>`,
			r.cedula, r.client, r.number, r.number, r.issued, r.paid, r.total,
		)
	}
	b.WriteString(`</tbody></table><ul class="pagination"><li class="paginate_button next disabled"><a href="#">Siguiente</a></li></ul></body></html>`)
	return b.String()
}

// portal scripts a MikroWISP admin panel on every page the browser opens and
// serves the artifacts of its records.
type portal struct {
	browser  *browsertest.Browser
	server   *httptest.Server
	password string

	mu        sync.Mutex
	loggedOut bool
	missing   map[string]bool
}

func newPortal(t *testing.T, password string) *portal {
	p := &portal{browser: browsertest.NewBrowser(), password: password, missing: map[string]bool{}}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		number := strings.TrimSuffix(filepath.Base(r.URL.Path), ".pdf")
		p.mu.Lock()
		missing := p.missing[number]
		p.mu.Unlock()
		if missing || r.Header.Get("Cookie") != "PHPSESSID=abc123" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4\n% " + number + "\n"))
	}))
	t.Cleanup(p.server.Close)

	p.browser.OnNewPage = func(page *browsertest.Page) {
		page.SetCookies(browser.Cookie{Name: "PHPSESSID", Value: "abc123"})
		page.OnEval = func(*browsertest.Page, string, []any) (any, error) {
			return true, nil
		}
		page.OnNavigate = func(page *browsertest.Page, url string) error {
			switch {
			case strings.Contains(url, "/login"):
				page.SetHTML(loginForm)
			case strings.HasSuffix(url, "#ajax/facturas"):
				page.SetHTML(listingHTML(invoices))
			}
			return nil
		}
		page.OnClick = func(page *browsertest.Page, selector string) error {
			el := page.Resolve(selector)
			text := strings.TrimSpace(el.Text())
			switch {
			case text == "Ingresar":
				if page.Value(`input[name="password"]`) == p.password {
					page.SetURL(homeURL)
				}
			case text == "Salir":
				p.mu.Lock()
				p.loggedOut = true
				p.mu.Unlock()
				page.SetURL(loginURL)
			case el.Closest("td").Length() > 0:
				page.OpenTab(p.server.URL+"/factura/"+text+".pdf", "")
			}
			return nil
		}
	}
	return p
}

func (p *portal) launch(ctx context.Context) (browser.Browser, error) {
	return p.browser, nil
}

func (p *portal) LoggedOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedOut
}

type notifications struct {
	mu   sync.Mutex
	runs []history.RunSummary
	err  error
}

func (n *notifications) Notify(ctx context.Context, run history.RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	return n.err
}

type brokenLedger struct{}

func (brokenLedger) RecordRun(context.Context, history.RunSummary) error {
	return errors.New("database is locked")
}

var testDate = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

var clock = chrono.FixedTime{At: time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Portal.LoginURL = loginURL
	cfg.Credentials = mikrowisp.Credentials{Username: "ops@isp.example", Password: "secret"}
	cfg.Timeouts = config.Timeouts{
		NavigationMs:      1000,
		ElementMs:         100,
		TableSettleMs:     20,
		NewTabMs:          200,
		AfterClickMs:      1,
		AfterNavigationMs: 1,
		LoginSettleMs:     1,
	}
	cfg.Retry = config.Retry{MaxAttempts: 2, DelayMs: 1}
	cfg.Paths = config.Paths{
		Downloads: filepath.Join(dir, "downloads"),
		Logs:      filepath.Join(dir, "logs"),
	}
	return cfg
}

type fixture struct {
	cfg      config.Config
	portal   *portal
	store    *history.Store
	notified *notifications
	rec      *telemetrytest.Recorder
	runner   *Runner
}

func newFixture(t *testing.T, password string) fixture {
	cfg := testConfig(t)
	p := newPortal(t, password)
	store := history.NewStore(testutil.SetupDB(t, testutil.DBParams{Schema: db.Schema}))
	notified := &notifications{}
	rec := &telemetrytest.Recorder{}

	r := NewRunner(cfg, p.launch, clock, store, notified, rec)
	r.jitter = func() time.Duration { return 0 }
	r.newID = func() string { return "run-1" }
	return fixture{cfg: cfg, portal: p, store: store, notified: notified, rec: rec, runner: r}
}

func TestRunDownloadsSection(t *testing.T) {
	f := newFixture(t, "secret")

	res, err := f.runner.Run(context.Background(), Request{Section: mikrowisp.Invoices})
	require.NoError(t, err)
	require.Equal(t, testDate, res.TargetDate)
	require.Equal(t, db.RUN_SUCCEEDED, res.Status)
	require.Equal(t, filepath.Join(f.cfg.Paths.Downloads, "invoices", "2024-03-14"), res.OutputDir)
	require.Equal(t, 3, res.Outcome.Total)
	require.Equal(t, 3, res.Outcome.Downloaded)
	require.Empty(t, res.Screenshot)

	for _, d := range res.Outcome.Successful {
		contents, err := os.ReadFile(filepath.Join(res.OutputDir, d.Filename))
		require.NoError(t, err)
		require.Contains(t, string(contents), d.Record.RecordNumber)
	}
	require.Equal(t, filepath.Join(res.OutputDir, mikrowisp.ReportFilename), res.ReportPath)
	require.FileExists(t, res.ReportPath)

	require.True(t, f.portal.LoggedOut())
	require.True(t, f.portal.browser.Closed())

	runs, err := f.store.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "run-1", runs[0].ID)
	require.Equal(t, db.RUN_SUCCEEDED, runs[0].Status)
	require.Equal(t, 3, runs[0].Successful)

	records, err := f.store.Records(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "1001", records[0].RecordNumber)

	require.Len(t, f.notified.runs, 1)
	require.Equal(t, res.ReportPath, f.notified.runs[0].ReportPath)
}

func TestRunPartial(t *testing.T) {
	f := newFixture(t, "secret")
	f.portal.missing["1003"] = true

	res, err := f.runner.Run(context.Background(), Request{Section: mikrowisp.Invoices, Date: testDate})
	require.NoError(t, err)
	require.Equal(t, db.RUN_PARTIAL, res.Status)
	require.Equal(t, 2, res.Outcome.Downloaded)
	require.Equal(t, 1, res.Outcome.Failed)

	failed := res.Outcome.FailedResults[0]
	require.Equal(t, "1003", failed.Record.RecordNumber)
	require.ErrorIs(t, failed.Err, mikrowisp.ErrHttpStatus)

	records, err := f.store.Records(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	var errorsByRecord []string
	for _, r := range records {
		if r.Error != "" {
			errorsByRecord = append(errorsByRecord, r.RecordNumber+": "+r.Error)
		}
	}
	require.Len(t, errorsByRecord, 1)
	require.Contains(t, errorsByRecord[0], "1003: ")
	require.Contains(t, errorsByRecord[0], "404")
}

func TestRunLimit(t *testing.T) {
	f := newFixture(t, "secret")

	res, err := f.runner.Run(context.Background(), Request{Section: mikrowisp.Invoices, Date: testDate, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Outcome.Total)
	require.Equal(t, "1001", res.Outcome.Successful[0].Record.RecordNumber)
	require.Equal(t, "1003", res.Outcome.Successful[1].Record.RecordNumber)
}

func TestRunLoginRejected(t *testing.T) {
	f := newFixture(t, "another-password")

	res, err := f.runner.Run(context.Background(), Request{Section: mikrowisp.Invoices, Date: testDate})
	var authErr *mikrowisp.AuthError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, mikrowisp.AuthLoginRejected, authErr.Kind)
	require.Equal(t, db.RUN_FAILED, res.Status)

	require.Equal(t, filepath.Join(f.cfg.Paths.Logs, "error-run-1.png"), res.Screenshot)
	require.FileExists(t, res.Screenshot)
	require.True(t, f.portal.browser.Closed())
	require.NoFileExists(t, filepath.Join(res.OutputDir, mikrowisp.ReportFilename))

	runs, lerr := f.store.Recent(context.Background(), "invoices", 10)
	require.NoError(t, lerr)
	require.Len(t, runs, 1)
	require.Equal(t, db.RUN_FAILED, runs[0].Status)
	require.Contains(t, runs[0].Error, "login-rejected")
	require.Len(t, f.notified.runs, 1)
	require.True(t, f.rec.Has("broken", "runner.run"))
}

func TestRunUnknownSection(t *testing.T) {
	f := newFixture(t, "secret")

	_, err := f.runner.Run(context.Background(), Request{Section: "reports", Date: testDate})
	require.Error(t, err)
	require.False(t, f.portal.browser.Closed())
	require.Empty(t, f.notified.runs)
}

func TestRunBestEffortFinish(t *testing.T) {
	f := newFixture(t, "secret")
	f.notified.err = errors.New("smtp: connection refused")
	r := NewRunner(f.cfg, f.portal.launch, clock, brokenLedger{}, f.notified, f.rec)
	r.jitter = func() time.Duration { return 0 }

	res, err := r.Run(context.Background(), Request{Section: mikrowisp.Invoices, Date: testDate})
	require.NoError(t, err)
	require.Equal(t, db.RUN_SUCCEEDED, res.Status)
	require.True(t, f.rec.Has("warning", "runner.ledger"))
	require.True(t, f.rec.Has("warning", "runner.notify"))
}

func TestStatus(t *testing.T) {
	testCases := []struct {
		name    string
		outcome mikrowisp.Outcome
		err     error
		want    db.RunStatus
	}{
		{"nothing to do", mikrowisp.Outcome{}, nil, db.RUN_SUCCEEDED},
		{"all downloaded", mikrowisp.Outcome{Total: 2, Downloaded: 2}, nil, db.RUN_SUCCEEDED},
		{"some failed", mikrowisp.Outcome{Total: 2, Downloaded: 1, Failed: 1}, nil, db.RUN_PARTIAL},
		{"all failed", mikrowisp.Outcome{Total: 2, Failed: 2}, nil, db.RUN_FAILED},
		{"stopped", mikrowisp.Outcome{Total: 2, Downloaded: 2}, context.Canceled, db.RUN_FAILED},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, status(tc.outcome, tc.err))
		})
	}
}
