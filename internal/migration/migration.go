package migration

import (
	"context"

	"didlab/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles the run archive schema
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order. The DDL is
// chosen by driver; postgres gets JSONB and timezone-aware timestamps.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create did_runs table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	jsonType, timeType := "TEXT", "TIMESTAMP"
	if db.DriverName() == "postgres" {
		jsonType, timeType = "JSONB", "TIMESTAMP WITH TIME ZONE"
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS did_runs (
			id VARCHAR(36) PRIMARY KEY,
			fingerprint VARCHAR(64) NOT NULL,
			input_name TEXT NOT NULL,
			outcome TEXT NOT NULL,
			n_observations INTEGER NOT NULL,
			estimate DOUBLE PRECISION,
			p_value DOUBLE PRECISION,
			balanced BOOLEAN,
			n_failures INTEGER NOT NULL DEFAULT 0,
			report `+jsonType+` NOT NULL,
			artifacts `+jsonType+` NOT NULL,
			created_at `+timeType+` NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_did_runs_fingerprint ON did_runs(fingerprint)",
		"CREATE INDEX IF NOT EXISTS idx_did_runs_created_at ON did_runs(created_at DESC)",
	}

	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return err
		}
	}
	return nil
}
