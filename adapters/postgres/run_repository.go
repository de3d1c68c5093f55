package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"didlab/domain/core"
	"didlab/domain/did"
	"didlab/internal/errors"
	"didlab/ports"

	"github.com/jmoiron/sqlx"
)

// RunRepositoryImpl implements RunRepository on sqlx. Queries are written with
// ? placeholders and rebound per driver, so the same code serves postgres and
// sqlite3.
type RunRepositoryImpl struct {
	db *sqlx.DB
}

// NewRunRepository creates a new SQL run repository
func NewRunRepository(db *sqlx.DB) ports.RunRepository {
	return &RunRepositoryImpl{db: db}
}

type runRow struct {
	ID            string          `db:"id"`
	Fingerprint   string          `db:"fingerprint"`
	InputName     string          `db:"input_name"`
	Outcome       string          `db:"outcome"`
	NObservations int             `db:"n_observations"`
	Estimate      sql.NullFloat64 `db:"estimate"`
	PValue        sql.NullFloat64 `db:"p_value"`
	Balanced      sql.NullBool    `db:"balanced"`
	NFailures     int             `db:"n_failures"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (r runRow) summary() did.RunSummary {
	s := did.RunSummary{
		RunID:         core.RunID(r.ID),
		Fingerprint:   core.Hash(r.Fingerprint),
		InputName:     r.InputName,
		Outcome:       r.Outcome,
		NObservations: r.NObservations,
		NFailures:     r.NFailures,
		CreatedAt:     core.NewTimestamp(r.CreatedAt.UTC()),
	}
	if r.Estimate.Valid {
		v := r.Estimate.Float64
		s.Estimate = &v
	}
	if r.PValue.Valid {
		v := r.PValue.Float64
		s.PValue = &v
	}
	if r.Balanced.Valid {
		v := r.Balanced.Bool
		s.Balanced = &v
	}
	return s
}

const summaryColumns = `id, fingerprint, input_name, outcome, n_observations,
	estimate, p_value, balanced, n_failures, created_at`

// SaveRun inserts the run headline and its full report
func (r *RunRepositoryImpl) SaveRun(ctx context.Context, inputName string, report *did.Report, artifacts did.Artifacts) error {
	if report == nil {
		return errors.InvalidInput("report is required")
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return errors.Wrap(err, "failed to encode artifacts")
	}

	var estimate, pValue sql.NullFloat64
	if report.DID != nil {
		estimate = sql.NullFloat64{Float64: report.DID.Estimate.Estimate, Valid: true}
		pValue = sql.NullFloat64{Float64: report.DID.Estimate.PValue, Valid: true}
	}
	var balanced sql.NullBool
	if report.ParallelTrends != nil {
		balanced = sql.NullBool{Bool: report.ParallelTrends.IsBalanced, Valid: true}
	}

	createdAt := report.GeneratedAt.Time()
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO did_runs (
			id, fingerprint, input_name, outcome, n_observations,
			estimate, p_value, balanced, n_failures, report, artifacts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		report.RunID.String(), report.Fingerprint.String(), inputName, report.Columns.Outcome,
		report.NObservations, estimate, pValue, balanced, len(report.Failures),
		string(reportJSON), string(artifactsJSON), createdAt.UTC(),
	)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to save run %s", report.RunID))
	}
	return nil
}

// GetRun loads one run with its report
func (r *RunRepositoryImpl) GetRun(ctx context.Context, id core.RunID) (*did.RunRecord, error) {
	var row struct {
		runRow
		Report    string `db:"report"`
		Artifacts string `db:"artifacts"`
	}
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT `+summaryColumns+`, report, artifacts
		FROM did_runs
		WHERE id = ?`), id.String())
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("run " + id.String())
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to load run %s", id))
	}

	record := &did.RunRecord{RunSummary: row.summary()}
	if err := json.Unmarshal([]byte(row.Report), &record.Report); err != nil {
		return nil, errors.Wrapf(err, "failed to decode report of run %s", id)
	}
	if err := json.Unmarshal([]byte(row.Artifacts), &record.Artifacts); err != nil {
		return nil, errors.Wrapf(err, "failed to decode artifacts of run %s", id)
	}
	return record, nil
}

// ListRuns returns run headlines, newest first, optionally limited
func (r *RunRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]did.RunSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM did_runs ORDER BY created_at DESC, id DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.selectSummaries(ctx, query, args...)
}

// ListByFingerprint returns runs over the same prepared input, newest first
func (r *RunRepositoryImpl) ListByFingerprint(ctx context.Context, fingerprint core.Hash) ([]did.RunSummary, error) {
	return r.selectSummaries(ctx, `
		SELECT `+summaryColumns+`
		FROM did_runs
		WHERE fingerprint = ?
		ORDER BY created_at DESC, id DESC`, fingerprint.String())
}

func (r *RunRepositoryImpl) selectSummaries(ctx context.Context, query string, args ...interface{}) ([]did.RunSummary, error) {
	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to list runs"))
	}

	summaries := make([]did.RunSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, row.summary())
	}
	return summaries, nil
}
