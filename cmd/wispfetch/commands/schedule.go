package commands

import (
	"context"
	"os"
	"time"
	"wispfetch/internal/application/run"
	"wispfetch/internal/components/chrono"
	"wispfetch/internal/components/telemetry"
	"wispfetch/internal/history"
	"wispfetch/lib/osutil"

	"github.com/spf13/cobra"
)

const (
	report_schedule_tick  = "schedule.tick"
	report_schedule_prune = "schedule.prune"
)

var scheduleFlags struct {
	cron string
	now  bool
}

func init() {
	f := scheduleCmd.Flags()
	f.StringVar(&scheduleFlags.cron, "cron", "", `The cron spec of the daily run, like "0 6 * * *". Defaults to the configured schedule.`)
	f.BoolVar(&scheduleFlags.now, "now", false, "Also run once right away.")
	rootCmd.AddCommand(scheduleCmd)
}

// tick runs every configured section for yesterday, then prunes the ledger.
func tick(ctx context.Context, a *app, runner *run.Runner) {
	for _, section := range a.cfg.Sections {
		if ctx.Err() != nil {
			return
		}
		res, err := runner.Run(ctx, run.Request{Section: section})
		printSummary(os.Stdout, res, err)
		if err != nil {
			a.tel.ReportWarning(report_schedule_tick, section, err)
		}
	}
	prune(ctx, a.store, a.clock, a.cfg.KeepRunsDays, a.tel)
}

func prune(ctx context.Context, store *history.Store, clock chrono.TimeAPI, keepDays int, tel telemetry.API) {
	if store == nil || keepDays <= 0 {
		return
	}
	cutoff := clock.Now().AddDate(0, 0, -keepDays)
	n, err := store.Prune(ctx, cutoff)
	if err != nil {
		tel.ReportWarning(report_schedule_prune, err)
		return
	}
	if n > 0 {
		tel.ReportInfo("pruned runs", n, cutoff.Format(time.DateOnly))
	}
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [--cron <spec>] [--now]",
	Short: "Runs every configured listing for yesterday on a cron schedule until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		a, err := setup(ctx)
		if err != nil {
			osutil.Fatal("failed to load config", err)
		}
		defer a.Close()
		if err := a.cfg.Validate(); err != nil {
			a.Close()
			osutil.Fatal("invalid config", err)
		}

		spec := scheduleFlags.cron
		if spec == "" {
			spec = a.cfg.Schedule
		}

		telemetry.InstrumentPerfStats(ctx, a.tel, 30*time.Second)

		runner := a.runner()
		cron := chrono.NewStandardCron(a.tel, a.clock.Location())
		err = cron.Cron(spec, func() {
			tick(ctx, a, runner)
		})
		if err != nil {
			cron.Stop()
			a.Close()
			osutil.Fatal("invalid cron spec", err)
		}
		a.tel.ReportInfo("scheduled", spec, a.clock.Location().String(), a.cfg.Sections)

		if scheduleFlags.now {
			tick(ctx, a, runner)
		}

		<-ctx.Done()
		a.tel.ReportInfo("stopping scheduler")
		cron.Stop()
	},
}
