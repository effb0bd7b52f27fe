package history

import (
	"context"
	"testing"
	"time"
	"wispfetch/internal/db"
	"wispfetch/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func run(id, section string, started time.Time, records ...RecordOutcome) RunSummary {
	successful := 0
	for _, r := range records {
		if r.Error == "" {
			successful++
		}
	}
	status := db.RUN_SUCCEEDED
	if successful < len(records) {
		status = db.RUN_PARTIAL
	}
	return RunSummary{
		ID:         id,
		Section:    section,
		TargetDate: time.Date(started.Year(), started.Month(), started.Day()-1, 0, 0, 0, 0, time.UTC),
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Minute),
		Status:     status,
		Total:      len(records),
		Successful: successful,
		Failed:     len(records) - successful,
		OutputDir:  "downloads/" + section,
		ReportPath: "downloads/" + section + "/download-report.json",
		Records:    records,
	}
}

func TestStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewStore(testutil.SetupDB(t, testutil.DBParams{Schema: db.Schema}))

	recent, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, recent)

	day := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)
	first := run("run-1", "invoices", day,
		RecordOutcome{RecordNumber: "1001", ClientID: "42", ClientName: "Ana", Amount: "$20.00", Filename: "a.pdf"},
		RecordOutcome{RecordNumber: "1002", ClientID: "43", ClientName: "Luis", Error: "http-error: status 404"},
	)
	second := run("run-2", "transactions", day.Add(time.Hour))
	third := run("run-3", "invoices", day.Add(24*time.Hour),
		RecordOutcome{RecordNumber: "1003", ClientID: "44", ClientName: "Eva", Filename: "c.pdf"},
	)
	for _, r := range []RunSummary{first, second, third} {
		require.NoError(t, store.RecordRun(ctx, r))
	}

	recent, err = store.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "run-3", recent[0].ID)
	require.Equal(t, "run-2", recent[1].ID)

	invoices, err := store.Recent(ctx, "invoices", 10)
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	got := invoices[1]
	require.Equal(t, db.RUN_PARTIAL, got.Status)
	require.True(t, got.StartedAt.Equal(first.StartedAt))
	require.Equal(t, first.TargetDate, got.TargetDate)
	require.Equal(t, 1, got.Failed)

	records, err := store.Records(ctx, "run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(first.Records, records); diff != "" {
		t.Fatal(diff)
	}

	// ids are unique, a replayed run is rejected without touching the ledger
	require.Error(t, store.RecordRun(ctx, first))
	records, err = store.Records(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testutil.SetupDB(t, testutil.DBParams{Schema: db.Schema}))

	day := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, run("old", "invoices", day, RecordOutcome{RecordNumber: "1", Filename: "x.pdf"})))
	require.NoError(t, store.RecordRun(ctx, run("new", "invoices", day.AddDate(0, 1, 0))))

	deleted, err := store.Prune(ctx, day.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	records, err := store.Records(ctx, "old")
	require.NoError(t, err)
	require.Empty(t, records)

	recent, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "new", recent[0].ID)
}
