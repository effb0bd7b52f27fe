package commands

import (
	"errors"
	"os"
	"wispfetch/lib/osutil"

	"github.com/spf13/cobra"
)

var historyFlags struct {
	section string
	limit   int
	run     string
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.section, "section", "", "Only list runs of this listing.")
	f.IntVar(&historyFlags.limit, "limit", 20, "How many runs to list.")
	f.StringVar(&historyFlags.run, "run", "", "List the records of a single run instead.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--section <section>] [--limit <n>] [--run <id>]",
	Short: "Lists past runs from the ledger.",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := setup(cmd.Context())
		if err != nil {
			osutil.Fatal("failed to load config", err)
		}
		defer a.Close()
		if a.store == nil {
			a.Close()
			osutil.Fatal("no ledger", errors.New("database is not configured or could not be opened"))
		}

		if historyFlags.run != "" {
			records, err := a.store.Records(cmd.Context(), historyFlags.run)
			if err != nil {
				a.Close()
				osutil.Fatal("failed to read run records", err)
			}
			renderRecords(os.Stdout, records)
			return
		}

		runs, err := a.store.Recent(cmd.Context(), historyFlags.section, historyFlags.limit)
		if err != nil {
			a.Close()
			osutil.Fatal("failed to read runs", err)
		}
		renderRuns(os.Stdout, runs, a.clock.Location())
	},
}
