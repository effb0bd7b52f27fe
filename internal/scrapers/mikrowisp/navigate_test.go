package mikrowisp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"wispfetch/internal/browser/browsertest"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry/telemetrytest"

	"github.com/stretchr/testify/require"
)

func TestSectionURL(t *testing.T) {
	testCases := []struct {
		current, fragment, expected string
	}{
		{"https://isp.example/admin/#ajax/inicio", "#ajax/facturas", "https://isp.example/admin/#ajax/facturas"},
		{"https://isp.example/admin/", "#ajax/transacciones", "https://isp.example/admin/#ajax/transacciones"},
		{"https://isp.example/admin/#", "#ajax/facturas", "https://isp.example/admin/#ajax/facturas"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, SectionURL(tc.current, tc.fragment))
	}
}

var fixedClock = chrono.FixedTime{At: time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)}

func TestGoTo(t *testing.T) {
	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/#ajax/inicio", "")
	idle(page)
	var visited []string
	page.OnNavigate = func(p *browsertest.Page, url string) error {
		visited = append(visited, url)
		return nil
	}

	rec := &telemetrytest.Recorder{}
	nav := NewNavigator(page, testPortal(), testTimeouts(), t.TempDir(), fixedClock, rec)
	require.NoError(t, nav.GoTo(context.Background(), Transactions))
	require.Equal(t, []string{"https://isp.example/admin/#ajax/transacciones"}, visited)
	require.Empty(t, rec.Reports("warning"))
}

func TestGoToFailure(t *testing.T) {
	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/", "")
	page.OnNavigate = func(*browsertest.Page, string) error {
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	nav := NewNavigator(page, testPortal(), testTimeouts(), t.TempDir(), fixedClock, &telemetrytest.Recorder{})

	err := nav.GoTo(context.Background(), Invoices)
	var navErr *NavigationError
	require.True(t, errors.As(err, &navErr))
	require.Equal(t, Invoices, navErr.Section)
	require.Equal(t, "https://isp.example/admin/#ajax/facturas", navErr.URL)

	portal := testPortal()
	delete(portal.Sections, Transactions)
	nav = NewNavigator(page, portal, testTimeouts(), t.TempDir(), fixedClock, &telemetrytest.Recorder{})
	require.True(t, errors.As(nav.GoTo(context.Background(), Transactions), &navErr))
}

func TestSettleTimeoutIsOnlyAWarning(t *testing.T) {
	b := browsertest.NewBrowser()
	page := b.Open("https://isp.example/admin/", "")
	page.OnEval = func(*browsertest.Page, string, []any) (any, error) {
		return false, nil
	}
	rec := &telemetrytest.Recorder{}
	nav := NewNavigator(page, testPortal(), testTimeouts(), t.TempDir(), fixedClock, rec)

	nav.Settle(context.Background())
	require.True(t, rec.Has("warning", "navigator.settle"))
}

func TestScreenshots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	b := browsertest.NewBrowser()
	nav := NewNavigator(b.Open("https://isp.example/admin/", ""), testPortal(), testTimeouts(), dir, fixedClock, &telemetrytest.Recorder{})

	path, ok := nav.Screenshot(context.Background(), "invoices")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "invoices-1710482400.png"), path)

	path, ok = nav.ErrorScreenshot(context.Background(), "run-1")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "error-run-1.png"), path)
	_, err := os.Stat(path)
	require.NoError(t, err)
}
