// Package config is the configuration of wispfetch: a json5 file layered over
// the built-in MikroWISP defaults, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
	"wispfetch/internal/notify"
	"wispfetch/internal/scrapers/mikrowisp"
	"wispfetch/lib/configutil"
	configlibsql "wispfetch/lib/configutil/libsql"
)

const DefaultFile = "wispfetch.json5"

const (
	EnvUsername = "WISPFETCH_USERNAME"
	EnvPassword = "WISPFETCH_PASSWORD"
	EnvLoginURL = "WISPFETCH_LOGIN_URL"
	EnvLogLevel = "WISPFETCH_LOG_LEVEL"
)

// Timeouts are in milliseconds.
type Timeouts struct {
	NavigationMs       int `json:"navigation_ms"`
	ElementMs          int `json:"element_ms"`
	TableSettleMs      int `json:"table_settle_ms"`
	NewTabMs           int `json:"new_tab_ms"`
	AfterClickMs       int `json:"after_click_ms"`
	AfterNavigationMs  int `json:"after_navigation_ms"`
	BetweenDownloadsMs int `json:"between_downloads_ms"`
	LoginSettleMs      int `json:"login_settle_ms"`
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (t Timeouts) Durations() mikrowisp.Timeouts {
	return mikrowisp.Timeouts{
		Navigation:       ms(t.NavigationMs),
		Element:          ms(t.ElementMs),
		TableSettle:      ms(t.TableSettleMs),
		NewTab:           ms(t.NewTabMs),
		AfterClick:       ms(t.AfterClickMs),
		AfterNavigation:  ms(t.AfterNavigationMs),
		BetweenDownloads: ms(t.BetweenDownloadsMs),
		LoginSettle:      ms(t.LoginSettleMs),
	}
}

func timeoutsFrom(t mikrowisp.Timeouts) Timeouts {
	return Timeouts{
		NavigationMs:       int(t.Navigation.Milliseconds()),
		ElementMs:          int(t.Element.Milliseconds()),
		TableSettleMs:      int(t.TableSettle.Milliseconds()),
		NewTabMs:           int(t.NewTab.Milliseconds()),
		AfterClickMs:       int(t.AfterClick.Milliseconds()),
		AfterNavigationMs:  int(t.AfterNavigation.Milliseconds()),
		BetweenDownloadsMs: int(t.BetweenDownloads.Milliseconds()),
		LoginSettleMs:      int(t.LoginSettle.Milliseconds()),
	}
}

type Retry struct {
	MaxAttempts int `json:"max_attempts"`
	DelayMs     int `json:"delay_ms"`
}

func (r Retry) Policy() mikrowisp.RetryPolicy {
	return mikrowisp.RetryPolicy{MaxAttempts: r.MaxAttempts, Delay: ms(r.DelayMs)}
}

type Paths struct {
	// Downloads is the root of <section>/<date>/ artifact directories.
	Downloads string `json:"downloads"`
	Logs      string `json:"logs"`
}

type Browser struct {
	Headless bool `json:"headless"`
	// Bin is a chromium binary, empty to let rod download one.
	Bin string `json:"bin"`
	// ControlURL attaches to an already running browser.
	ControlURL   string `json:"control_url"`
	WindowWidth  int    `json:"window_width"`
	WindowHeight int    `json:"window_height"`
}

type Config struct {
	Portal      mikrowisp.PortalConfig `json:"portal"`
	Credentials mikrowisp.Credentials  `json:"credentials"`
	Timeouts    Timeouts               `json:"timeouts"`
	Retry       Retry                  `json:"retry"`
	Paths       Paths                  `json:"paths"`
	Browser     Browser                `json:"browser"`
	// Sections are what a scheduled run visits, in order.
	Sections []mikrowisp.Section `json:"sections"`
	Schedule string              `json:"schedule"`
	Otlp     telemetry.OtlpConfig `json:"otlp"`
	Notify   notify.Config        `json:"notify"`
	Database configlibsql.Struct  `json:"database"`
	Timezone string               `json:"timezone"`
	LogLevel string               `json:"log_level"`
	// KeepRunsDays prunes older ledger entries, 0 keeps everything.
	KeepRunsDays int `json:"keep_runs_days"`
}

func Default() Config {
	return Config{
		Portal:   mikrowisp.DefaultPortal(),
		Timeouts: timeoutsFrom(mikrowisp.DefaultTimeouts()),
		Retry: Retry{
			MaxAttempts: mikrowisp.DefaultRetryPolicy().MaxAttempts,
			DelayMs:     int(mikrowisp.DefaultRetryPolicy().Delay.Milliseconds()),
		},
		Paths: Paths{
			Downloads: "downloads",
			Logs:      "logs",
		},
		Browser: Browser{
			Headless:     true,
			WindowWidth:  1366,
			WindowHeight: 768,
		},
		Sections: []mikrowisp.Section{mikrowisp.Invoices, mikrowisp.Transactions},
		Schedule: "0 6 * * *",
		Database: configlibsql.Struct{File: "state/wispfetch.db"},
		Timezone: chrono.DefaultZone,
		LogLevel: "info",
	}
}

// Load layers path (and its .local variant) over Default and applies the
// environment. A missing file is not an error.
func Load(path string, getenv func(string) string) (Config, error) {
	if path == "" {
		path = DefaultFile
	}
	cfg, err := configutil.ReadConfigOver(path, Default())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// a section in the file replaces the default one wholesale, refill
	// whatever it left out
	defaults := mikrowisp.DefaultPortal().Sections
	for name, section := range cfg.Portal.Sections {
		def, ok := defaults[name]
		if !ok {
			continue
		}
		if err := configutil.FillDefaults(&section, def); err != nil {
			return Config{}, fmt.Errorf("section %s: %w", name, err)
		}
		cfg.Portal.Sections[name] = section
	}

	applyEnv(&cfg, getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := getenv(EnvUsername); v != "" {
		cfg.Credentials.Username = v
	}
	if v := getenv(EnvPassword); v != "" {
		cfg.Credentials.Password = v
	}
	if v := getenv(EnvLoginURL); v != "" {
		cfg.Portal.LoginURL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// Validate rejects configurations a run cannot start with.
func (c Config) Validate() error {
	var errs []error

	if c.Portal.LoginURL == "" {
		errs = append(errs, fmt.Errorf("portal.login_url is required (or %s)", EnvLoginURL))
	} else if u, err := url.Parse(c.Portal.LoginURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("portal.login_url %q is not an http(s) url", c.Portal.LoginURL))
	}
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		errs = append(errs, fmt.Errorf("credentials are required (or %s and %s)", EnvUsername, EnvPassword))
	}
	if c.Portal.AuthenticatedMarker == "" {
		errs = append(errs, errors.New("portal.authenticated_marker is required"))
	}
	for _, s := range c.Sections {
		if _, err := c.Portal.Section(s); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Timeouts.NewTabMs <= 0 || c.Timeouts.NavigationMs <= 0 || c.Timeouts.ElementMs <= 0 {
		errs = append(errs, errors.New("timeouts.navigation_ms, element_ms and new_tab_ms must be positive"))
	}
	if c.Paths.Downloads == "" || c.Paths.Logs == "" {
		errs = append(errs, errors.New("paths.downloads and paths.logs are required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}

	return errors.Join(errs...)
}
