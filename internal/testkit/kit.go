package testkit

import (
	"context"
	"sort"
	"sync"

	"didlab/domain/core"
	"didlab/domain/did"
	"didlab/internal/errors"
)

// InMemoryRunRepository implements RunRepository with in-memory storage. It
// backs the container when no database is configured, so runs live for the
// life of the process.
type InMemoryRunRepository struct {
	runs          map[core.RunID]did.RunRecord
	byFingerprint map[core.Hash][]core.RunID
	mu            sync.RWMutex
}

// NewInMemoryRunRepository creates an empty repository
func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{
		runs:          make(map[core.RunID]did.RunRecord),
		byFingerprint: make(map[core.Hash][]core.RunID),
	}
}

// SaveRun stores the run; a run ID can only be saved once
func (s *InMemoryRunRepository) SaveRun(ctx context.Context, inputName string, report *did.Report, artifacts did.Artifacts) error {
	if report == nil {
		return errors.InvalidInput("report is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[report.RunID]; exists {
		return errors.DatabaseError("run " + report.RunID.String() + " already archived")
	}

	summary := did.RunSummary{
		RunID:         report.RunID,
		Fingerprint:   report.Fingerprint,
		InputName:     inputName,
		Outcome:       report.Columns.Outcome,
		NObservations: report.NObservations,
		NFailures:     len(report.Failures),
		CreatedAt:     report.GeneratedAt,
	}
	if report.DID != nil {
		estimate, pValue := report.DID.Estimate.Estimate, report.DID.Estimate.PValue
		summary.Estimate = &estimate
		summary.PValue = &pValue
	}
	if report.ParallelTrends != nil {
		balanced := report.ParallelTrends.IsBalanced
		summary.Balanced = &balanced
	}

	s.runs[report.RunID] = did.RunRecord{RunSummary: summary, Report: report, Artifacts: artifacts}
	s.byFingerprint[report.Fingerprint] = append(s.byFingerprint[report.Fingerprint], report.RunID)
	return nil
}

// GetRun returns a stored run or NOT_FOUND
func (s *InMemoryRunRepository) GetRun(ctx context.Context, id core.RunID) (*did.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.runs[id]
	if !exists {
		return nil, errors.NotFound("run " + id.String())
	}
	return &record, nil
}

// ListRuns returns summaries newest first
func (s *InMemoryRunRepository) ListRuns(ctx context.Context, limit int) ([]did.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]did.RunSummary, 0, len(s.runs))
	for _, record := range s.runs {
		summaries = append(summaries, record.RunSummary)
	}
	sortNewestFirst(summaries)
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// ListByFingerprint returns runs over the same prepared input, newest first
func (s *InMemoryRunRepository) ListByFingerprint(ctx context.Context, fingerprint core.Hash) ([]did.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byFingerprint[fingerprint]
	summaries := make([]did.RunSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, s.runs[id].RunSummary)
	}
	sortNewestFirst(summaries)
	return summaries, nil
}

func sortNewestFirst(summaries []did.RunSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		ti, tj := summaries[i].CreatedAt.Time(), summaries[j].CreatedAt.Time()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return summaries[i].RunID > summaries[j].RunID
	})
}
