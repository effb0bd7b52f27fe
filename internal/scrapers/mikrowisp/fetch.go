package mikrowisp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"wispfetch/internal/browser"
	"wispfetch/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

var pdfMagic = []byte("%PDF-")

// Fetcher downloads artifacts outside the browser, authenticated with the
// browser session's cookies.
type Fetcher struct {
	http      *resty.Client
	verifyPDF bool
}

func NewFetcher(userAgent string, timeout time.Duration, verifyPDF bool, tel telemetry.API) *Fetcher {
	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("User-Agent", userAgent)
	client.SetTimeout(timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	// 2 requests max per second, burst 2 so nothing is dropped
	rateLimiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("fetcher", tel))

	return &Fetcher{http: client, verifyPDF: verifyPDF}
}

// CookieHeader joins cookies the way a browser sends them.
func CookieHeader(cookies []browser.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	return strings.Join(parts, "; ")
}

// Fetch streams url to dest. dest never survives a failure. Every error is a
// *DownloadError.
func (f *Fetcher) Fetch(ctx context.Context, url, cookieHeader, dest string) (err error) {
	req := f.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if cookieHeader != "" {
		req.SetHeader("Cookie", cookieHeader)
	}

	res, err := req.Get(url)
	if err != nil {
		return downloadError(DownloadStreamError, fmt.Errorf("GET %s: %w", url, err))
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() != http.StatusOK {
		return &DownloadError{Kind: DownloadHttpError, Status: res.StatusCode()}
	}

	file, err := os.Create(dest)
	if err != nil {
		return downloadError(DownloadStreamError, err)
	}
	defer func() {
		if err != nil {
			os.Remove(dest)
		}
	}()

	_, err = io.Copy(file, body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return downloadError(DownloadStreamError, err)
	}

	return f.verify(dest)
}

func (f *Fetcher) verify(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return downloadError(DownloadFileVerificationFailed, err)
	}
	if info.Size() == 0 {
		return downloadError(DownloadFileVerificationFailed, fmt.Errorf("%s is empty", path))
	}
	if !f.verifyPDF {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return downloadError(DownloadFileVerificationFailed, err)
	}
	defer file.Close()
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(file, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return downloadError(DownloadFileVerificationFailed, fmt.Errorf("%s is not a pdf", path))
	}
	return nil
}
