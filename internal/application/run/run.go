// Package run drives one section of the portal end to end: login, listing,
// downloads and report, then the ledger entry and the notification.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"wispfetch/internal/assert"
	"wispfetch/internal/browser"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
	"wispfetch/internal/config"
	"wispfetch/internal/db"
	"wispfetch/internal/history"
	"wispfetch/internal/scrapers/mikrowisp"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("wispfetch/internal/application/run")

const (
	report_runner_run    = "runner.run"
	report_runner_close  = "runner.close"
	report_runner_ledger = "runner.ledger"
	report_runner_notify = "runner.notify"
)

// TestModeLimit is how many records a --test run downloads.
const TestModeLimit = 3

const bestEffortTimeout = 30 * time.Second

// Launcher starts the browser a run drives. The run closes it.
type Launcher func(ctx context.Context) (browser.Browser, error)

type Ledger interface {
	RecordRun(ctx context.Context, run history.RunSummary) error
}

type Notifier interface {
	Notify(ctx context.Context, run history.RunSummary) error
}

type Request struct {
	Section mikrowisp.Section
	// Date is the day whose records are fetched, zero means yesterday.
	Date time.Time
	// Limit keeps only the first records, 0 keeps them all.
	Limit int
}

type Result struct {
	ID         string
	Section    mikrowisp.Section
	TargetDate time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	OutputDir  string
	ReportPath string
	Outcome    mikrowisp.Outcome
	Status     db.RunStatus
	// Screenshot is the capture taken when the run failed, if any.
	Screenshot string
}

type Runner struct {
	cfg      config.Config
	launch   Launcher
	clock    chrono.TimeAPI
	ledger   Ledger
	notifier Notifier
	tel      telemetry.API

	jitter func() time.Duration
	newID  func() string
}

// NewRunner returns a Runner. ledger and notifier may be nil.
func NewRunner(
	cfg config.Config,
	launch Launcher,
	clock chrono.TimeAPI,
	ledger Ledger,
	notifier Notifier,
	tel telemetry.API,
) *Runner {
	assert.NotNil(launch, "launcher")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")

	return &Runner{
		cfg:      cfg,
		launch:   launch,
		clock:    clock,
		ledger:   ledger,
		notifier: notifier,
		tel:      telemetry.NewScopedAPI("run", tel),
		newID:    uuid.NewString,
	}
}

// OutputDir is <downloads>/<section>/<YYYY-MM-DD>.
func OutputDir(downloads string, section mikrowisp.Section, date time.Time) string {
	return filepath.Join(downloads, string(section), date.Format(time.DateOnly))
}

// Run processes one section for one day. Records that fail to download only
// make the run partial, err is set when the run could not complete. The
// ledger and the notification see every run that got past validation.
func (r *Runner) Run(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "Runner.Run")
	defer span.End()

	res = Result{
		ID:         r.newID(),
		Section:    req.Section,
		TargetDate: req.Date,
		StartedAt:  r.clock.Now(),
	}
	if res.TargetDate.IsZero() {
		res.TargetDate = chrono.Yesterday(r.clock)
	}
	span.SetAttributes(
		attribute.String("run", res.ID),
		attribute.String("section", string(req.Section)),
		attribute.String("date", res.TargetDate.Format(time.DateOnly)),
	)

	if _, err := r.cfg.Portal.Section(req.Section); err != nil {
		return res, err
	}
	res.OutputDir = OutputDir(r.cfg.Paths.Downloads, req.Section, res.TargetDate)

	r.tel.ReportInfo("starting", res.ID, req.Section, res.TargetDate.Format(time.DateOnly))

	err = r.pipeline(ctx, req, &res)

	res.FinishedAt = r.clock.Now()
	res.Status = status(res.Outcome, err)
	span.SetAttributes(attribute.String("status", string(res.Status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.tel.ReportBroken(report_runner_run, err, res.ID)
	}

	r.finish(ctx, res, err)
	return res, err
}

func (r *Runner) pipeline(ctx context.Context, req Request, res *Result) (err error) {
	if err := os.MkdirAll(res.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	b, err := r.launch(ctx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			r.tel.ReportWarning(report_runner_close, err)
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	timeouts := r.cfg.Timeouts.Durations()
	session := mikrowisp.NewSession(page, r.cfg.Portal, r.cfg.Credentials, timeouts, r.tel)
	nav := mikrowisp.NewNavigator(page, r.cfg.Portal, timeouts, r.cfg.Paths.Logs, r.clock, r.tel)

	// runs before the browser is closed
	defer func() {
		if err != nil {
			res.Screenshot, _ = nav.ErrorScreenshot(context.WithoutCancel(ctx), res.ID)
		}
	}()

	if err := session.Login(ctx); err != nil {
		return err
	}
	if err := nav.GoTo(ctx, req.Section); err != nil {
		return err
	}

	extractor := mikrowisp.NewExtractor(page, nav, r.cfg.Portal, timeouts, r.tel)
	records, err := extractor.Records(ctx, req.Section, res.TargetDate)
	if err != nil {
		return err
	}
	if req.Limit > 0 && len(records) > req.Limit {
		r.tel.ReportInfo("limiting records", len(records), req.Limit)
		records = records[:req.Limit]
	}

	sectionCfg, _ := r.cfg.Portal.Section(req.Section)
	downloader := mikrowisp.NewDownloader(mikrowisp.DownloaderOptions{
		Browser:   b,
		Main:      page,
		Fetcher:   mikrowisp.NewFetcher(r.cfg.Portal.UserAgent, timeouts.Navigation, r.cfg.Portal.VerifyPDF, r.tel),
		Section:   sectionCfg,
		Portal:    r.cfg.Portal,
		Timeouts:  timeouts,
		Retry:     r.cfg.Retry.Policy(),
		Dir:       res.OutputDir,
		Jitter:    r.jitter,
		Navigator: nav,
		Restore: func(ctx context.Context) error {
			return extractor.Prepare(ctx, req.Section, res.TargetDate)
		},
	}, r.tel)
	res.Outcome = downloader.DownloadAll(ctx, records)

	report := mikrowisp.BuildReport(r.clock.Now(), res.Outcome.Successful, res.Outcome.FailedResults)
	res.ReportPath, err = mikrowisp.WriteReport(res.OutputDir, report)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	r.tel.ReportInfo("report written", res.ReportPath)

	session.Logout(ctx)
	return ctx.Err()
}

// status is failed when the run stopped or when not a single record made it.
func status(out mikrowisp.Outcome, err error) db.RunStatus {
	switch {
	case err != nil:
		return db.RUN_FAILED
	case out.Failed > 0 && out.Downloaded == 0:
		return db.RUN_FAILED
	case out.Failed > 0:
		return db.RUN_PARTIAL
	default:
		return db.RUN_SUCCEEDED
	}
}

// Summary is the ledger view of a finished run.
func Summary(res Result, runErr error) history.RunSummary {
	run := history.RunSummary{
		ID:         res.ID,
		Section:    string(res.Section),
		TargetDate: res.TargetDate,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Status:     res.Status,
		Total:      res.Outcome.Total,
		Successful: res.Outcome.Downloaded,
		Failed:     res.Outcome.Failed,
		OutputDir:  res.OutputDir,
		ReportPath: res.ReportPath,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	for _, d := range res.Outcome.Successful {
		run.Records = append(run.Records, history.RecordOutcome{
			RecordNumber: d.Record.RecordNumber,
			ClientID:     d.Record.ClientID,
			ClientName:   d.Record.ClientName,
			Amount:       d.Record.Total,
			Filename:     d.Filename,
		})
	}
	for _, d := range res.Outcome.FailedResults {
		msg := "unknown error"
		if d.Err != nil {
			msg = d.Err.Error()
		}
		run.Records = append(run.Records, history.RecordOutcome{
			RecordNumber: d.Record.RecordNumber,
			ClientID:     d.Record.ClientID,
			ClientName:   d.Record.ClientName,
			Amount:       d.Record.Total,
			Error:        msg,
		})
	}
	return run
}

// finish is best-effort, it never changes the outcome of the run.
func (r *Runner) finish(ctx context.Context, res Result, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()

	run := Summary(res, runErr)
	r.tel.ReportInfo(
		"finished",
		res.ID,
		string(res.Status),
		fmt.Sprintf("%d/%d downloaded", res.Outcome.Downloaded, res.Outcome.Total),
	)

	if r.ledger != nil {
		if err := r.ledger.RecordRun(ctx, run); err != nil {
			r.tel.ReportWarning(report_runner_ledger, err, res.ID)
		}
	}
	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, run); err != nil {
			r.tel.ReportWarning(report_runner_notify, err, res.ID)
		}
	}
}
