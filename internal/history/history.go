// Package history is the ledger of past runs, one row per run and one per
// processed record.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"wispfetch/internal/assert"
	"wispfetch/internal/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("wispfetch/internal/history")

type RecordOutcome struct {
	RecordNumber string
	ClientID     string
	ClientName   string
	Amount       string
	// Filename is empty for a failed record.
	Filename string
	Error    string
}

type RunSummary struct {
	ID         string
	Section    string
	TargetDate time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Status     db.RunStatus
	Total      int
	Successful int
	Failed     int
	OutputDir  string
	ReportPath string
	// Error is why a failed run stopped.
	Error   string
	Records []RecordOutcome
}

type Store struct {
	qry    *db.Queries
	makeTx db.MakeTx
}

func NewStore(database *sql.DB) *Store {
	assert.NotNil(database, "database")
	return &Store{
		qry:    db.New(database),
		makeTx: db.NewMakeTx(database),
	}
}

// RecordRun writes the run and all of its records in one transaction.
func (s *Store) RecordRun(ctx context.Context, run RunSummary) error {
	ctx, span := tracer.Start(ctx, "RecordRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("run", run.ID),
		attribute.Int("records", len(run.Records)),
	)

	err := s.recordRun(ctx, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) recordRun(ctx context.Context, run RunSummary) error {
	txqry, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return err
	}
	defer discard()

	err = txqry.CreateRun(ctx, db.CreateRunParams{
		ID:         run.ID,
		Section:    run.Section,
		TargetDate: run.TargetDate.Format(time.DateOnly),
		StartedAt:  run.StartedAt.Unix(),
		FinishedAt: run.FinishedAt.Unix(),
		Status:     run.Status,
		Total:      int64(run.Total),
		Successful: int64(run.Successful),
		Failed:     int64(run.Failed),
		OutputDir:  run.OutputDir,
		ReportPath: run.ReportPath,
		Error:      run.Error,
	})
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}

	for i, r := range run.Records {
		err := txqry.CreateRunRecord(ctx, db.CreateRunRecordParams{
			RunID:        run.ID,
			Position:     int64(i),
			RecordNumber: r.RecordNumber,
			ClientID:     r.ClientID,
			ClientName:   r.ClientName,
			Amount:       r.Amount,
			Filename:     r.Filename,
			Error:        r.Error,
		})
		if err != nil {
			return fmt.Errorf("create record %s of run %s: %w", r.RecordNumber, run.ID, err)
		}
	}

	return commit()
}

// Recent returns the latest runs first, without their records. An empty
// section means every section.
func (s *Store) Recent(ctx context.Context, section string, limit int) ([]RunSummary, error) {
	ctx, span := tracer.Start(ctx, "Recent")
	defer span.End()

	var rows []db.Run
	var err error
	if section == "" {
		rows, err = s.qry.GetRecentRuns(ctx, int64(limit))
	} else {
		rows, err = s.qry.GetRecentRunsBySection(ctx, db.GetRecentRunsBySectionParams{
			Section: section,
			Limit:   int64(limit),
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]RunSummary, 0, len(rows))
	for _, r := range rows {
		target, err := time.Parse(time.DateOnly, r.TargetDate)
		if err != nil {
			return nil, fmt.Errorf("run %s: target date %q: %w", r.ID, r.TargetDate, err)
		}
		out = append(out, RunSummary{
			ID:         r.ID,
			Section:    r.Section,
			TargetDate: target,
			StartedAt:  time.Unix(r.StartedAt, 0),
			FinishedAt: time.Unix(r.FinishedAt, 0),
			Status:     r.Status,
			Total:      int(r.Total),
			Successful: int(r.Successful),
			Failed:     int(r.Failed),
			OutputDir:  r.OutputDir,
			ReportPath: r.ReportPath,
			Error:      r.Error,
		})
	}
	return out, nil
}

// Records returns the outcomes of a run in processing order.
func (s *Store) Records(ctx context.Context, runID string) ([]RecordOutcome, error) {
	rows, err := s.qry.GetRunRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]RecordOutcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, RecordOutcome{
			RecordNumber: r.RecordNumber,
			ClientID:     r.ClientID,
			ClientName:   r.ClientName,
			Amount:       r.Amount,
			Filename:     r.Filename,
			Error:        r.Error,
		})
	}
	return out, nil
}

// Prune deletes runs that started before cutoff along with their records.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	txqry, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return 0, err
	}
	defer discard()

	deleted, err := txqry.DeleteRunsBefore(ctx, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	// foreign keys are off by default in sqlite, the cascade is done by hand
	if _, err := txqry.DeleteOrphanRunRecords(ctx); err != nil {
		return 0, err
	}
	return deleted, commit()
}
