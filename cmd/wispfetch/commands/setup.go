package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
	"wispfetch/internal/application/run"
	"wispfetch/internal/browser"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
	"wispfetch/internal/config"
	"wispfetch/internal/db"
	"wispfetch/internal/history"
	"wispfetch/internal/notify"
)

const (
	report_setup_otel   = "setup.otel"
	report_setup_ledger = "setup.ledger"
)

// app is what every command shares once the config is loaded.
type app struct {
	cfg   config.Config
	clock chrono.StandardTime
	tel   telemetry.API
	// store is nil when the ledger could not be opened.
	store   *history.Store
	closers []func() error
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return nil, err
	}
	clock, err := chrono.NewStandardTime(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	logger, closeLogs := telemetry.SetupLogger(
		cfg.Paths.Logs,
		telemetry.DefaultLogFiles(clock.Now().Format(time.DateOnly)),
		telemetry.ParseLevel(cfg.LogLevel),
	)
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		clock:   clock,
		tel:     telemetry.NewSlogAPI(logger),
		closers: []func() error{closeLogs},
	}

	otel, err := telemetry.SetupOtel(ctx, "wispfetch", cfg.Otlp)
	if err != nil {
		a.tel.ReportWarning(report_setup_otel, err)
	} else {
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return otel.Shutdown(ctx)
		})
	}

	if cfg.Database.File != "" || cfg.Database.Url != "" {
		database, err := cfg.Database.OpenDB()
		if err == nil {
			err = db.Migrate(ctx, database)
			if err != nil {
				database.Close()
			}
		}
		if err != nil {
			a.tel.ReportWarning(report_setup_ledger, err)
		} else {
			a.store = history.NewStore(database)
			a.closers = append(a.closers, database.Close)
		}
	}

	return a, nil
}

// Close releases everything in reverse order, the log files last.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close", "err", err)
		}
	}
	a.closers = nil
}

func (a *app) runner() *run.Runner {
	var ledger run.Ledger
	if a.store != nil {
		ledger = a.store
	}
	cfg := a.cfg
	launch := func(ctx context.Context) (browser.Browser, error) {
		b, err := browser.LaunchRod(ctx, browser.RodOptions{
			Headless:     cfg.Browser.Headless,
			Bin:          cfg.Browser.Bin,
			ControlURL:   cfg.Browser.ControlURL,
			UserAgent:    cfg.Portal.UserAgent,
			WindowWidth:  cfg.Browser.WindowWidth,
			WindowHeight: cfg.Browser.WindowHeight,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return run.NewRunner(cfg, launch, a.clock, ledger, notify.NewNotifier(cfg.Notify), a.tel)
}
