package db

import (
	"context"
	"database/sql"
	_ "embed"
)

//go:embed schema.sql
var Schema string

type RunStatus string

const (
	RUN_SUCCEEDED RunStatus = "succeeded"
	RUN_PARTIAL   RunStatus = "partial"
	RUN_FAILED    RunStatus = "failed"
)

// Migrate creates every table that does not exist yet.
func Migrate(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, Schema)
	return err
}
