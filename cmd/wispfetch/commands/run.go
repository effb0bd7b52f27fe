package commands

import (
	"fmt"
	"os"
	"time"
	"wispfetch/internal/application/run"
	"wispfetch/internal/scrapers/mikrowisp"
	"wispfetch/lib/osutil"

	"github.com/spf13/cobra"
)

var runFlags struct {
	section    string
	date       string
	headless   bool
	noHeadless bool
	test       bool
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.section, "section", string(mikrowisp.Invoices), "The listing to process: invoices or transactions.")
	f.StringVar(&runFlags.date, "date", "", "The day to fetch as YYYY-MM-DD or DD/MM/YYYY, yesterday when empty.")
	f.BoolVar(&runFlags.headless, "headless", true, "Run the browser without a window.")
	f.BoolVar(&runFlags.noHeadless, "no-headless", false, "Show the browser window.")
	f.BoolVar(&runFlags.test, "test", false, fmt.Sprintf("Show the browser and only download the first %d records.", run.TestModeLimit))
	rootCmd.AddCommand(runCmd)
}

// parseDate reads day in loc, an empty day is the zero time.
func parseDate(day string, loc *time.Location) (time.Time, error) {
	if day == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.DateOnly, mikrowisp.DateLayout} {
		t, err := time.ParseInLocation(layout, day, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is neither YYYY-MM-DD nor DD/MM/YYYY", day)
}

// resolveHeadless applies the flags over the configured value. headless is
// nil when --headless was not given.
func resolveHeadless(configured bool, headless *bool, noHeadless, test bool) bool {
	switch {
	case test || noHeadless:
		return false
	case headless != nil:
		return *headless
	}
	return configured
}

var runCmd = &cobra.Command{
	Use:   "run [--section invoices|transactions] [--date <day>] [--no-headless] [--test]",
	Short: "Downloads the PDFs of one listing for one day and writes its report.",
	Run: func(cmd *cobra.Command, args []string) {
		section, err := mikrowisp.ParseSection(runFlags.section)
		if err != nil {
			osutil.Fatal("invalid --section", err)
		}

		a, err := setup(cmd.Context())
		if err != nil {
			osutil.Fatal("failed to load config", err)
		}
		if err := a.cfg.Validate(); err != nil {
			a.Close()
			osutil.Fatal("invalid config", err)
		}

		date, err := parseDate(runFlags.date, a.clock.Location())
		if err != nil {
			a.Close()
			osutil.Fatal("invalid --date", err)
		}

		var headless *bool
		if cmd.Flags().Changed("headless") {
			headless = &runFlags.headless
		}
		a.cfg.Browser.Headless = resolveHeadless(a.cfg.Browser.Headless, headless, runFlags.noHeadless, runFlags.test)

		req := run.Request{Section: section, Date: date}
		if runFlags.test {
			req.Limit = run.TestModeLimit
		}

		res, err := a.runner().Run(cmd.Context(), req)
		printSummary(os.Stdout, res, err)
		a.Close()
		if err != nil {
			os.Exit(1)
		}
	},
}
