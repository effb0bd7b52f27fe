package commands

import (
	"fmt"
	"io"
	"time"
	"wispfetch/internal/application/run"
	"wispfetch/internal/history"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// printSummary prints the counts of a run and every record that failed.
func printSummary(w io.Writer, res run.Result, runErr error) {
	fmt.Fprintf(w, "\n%s %s (run %s)\n", res.Section, res.TargetDate.Format(time.DateOnly), res.ID)
	fmt.Fprintf(w, "status: %s\n", res.Status)
	fmt.Fprintf(w, "total: %d, downloaded: %d, failed: %d\n", res.Outcome.Total, res.Outcome.Downloaded, res.Outcome.Failed)
	if res.ReportPath != "" {
		fmt.Fprintf(w, "report: %s\n", res.ReportPath)
	}

	if len(res.Outcome.FailedResults) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{"Record", "Client", "Error"})
		for _, f := range res.Outcome.FailedResults {
			msg := "unknown error"
			if f.Err != nil {
				msg = f.Err.Error()
			}
			t.AppendRow(table.Row{f.Record.RecordNumber, f.Record.ClientName, msg})
		}
		t.Render()
	}

	if runErr != nil {
		fmt.Fprintf(w, "error: %v\n", runErr)
		if res.Screenshot != "" {
			fmt.Fprintf(w, "screenshot: %s\n", res.Screenshot)
		}
	}
}

func renderRuns(w io.Writer, runs []history.RunSummary, loc *time.Location) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Section", "Date", "Started", "Status", "Downloaded", "Failed", "Error"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			r.Section,
			r.TargetDate.Format(time.DateOnly),
			r.StartedAt.In(loc).Format(time.DateTime),
			string(r.Status),
			fmt.Sprintf("%d/%d", r.Successful, r.Total),
			r.Failed,
			r.Error,
		})
	}
	t.Render()
}

func renderRecords(w io.Writer, records []history.RecordOutcome) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Record", "Client ID", "Client", "Amount", "File", "Error"})
	for _, r := range records {
		t.AppendRow(table.Row{r.RecordNumber, r.ClientID, r.ClientName, r.Amount, r.Filename, r.Error})
	}
	t.Render()
}
