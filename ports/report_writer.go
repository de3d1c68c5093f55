package ports

import (
	"context"

	"didlab/domain/did"
)

// ReportWriter renders a report into human-readable artifacts under dir
type ReportWriter interface {
	Write(ctx context.Context, report *did.Report, dir string) (did.Artifacts, error)
}
