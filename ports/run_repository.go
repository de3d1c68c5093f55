package ports

import (
	"context"

	"didlab/domain/core"
	"didlab/domain/did"
)

// RunRepository archives completed runs
type RunRepository interface {
	// SaveRun stores a run; saving the same run ID twice is an error
	SaveRun(ctx context.Context, inputName string, report *did.Report, artifacts did.Artifacts) error

	// GetRun returns the archived run or a NOT_FOUND error
	GetRun(ctx context.Context, id core.RunID) (*did.RunRecord, error)

	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]did.RunSummary, error)

	// ListByFingerprint returns earlier runs over the same prepared input
	ListByFingerprint(ctx context.Context, fingerprint core.Hash) ([]did.RunSummary, error)
}
