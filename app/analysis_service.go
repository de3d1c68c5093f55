package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"didlab/adapters/report"
	"didlab/domain/core"
	"didlab/domain/did"
	"didlab/domain/panel"
	"didlab/internal"
	"didlab/internal/causal"
	"didlab/internal/config"
	"didlab/internal/errors"
	"didlab/internal/metrics"
	"didlab/ports"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"
)

// AnalysisService runs one analysis end to end: read the table, run the
// engine, write the report and archive the run. Writer, archive and metrics
// are optional.
type AnalysisService struct {
	reader    ports.TableReader
	writer    ports.ReportWriter
	runs      ports.RunRepository
	metrics   *metrics.Metrics
	options   causal.Options
	outputDir string
	logger    *internal.Logger
	validate  *validator.Validate
	slots     *semaphore.Weighted
}

// AnalysisRequest describes one run. Either Path or Source must be set; an
// upload also needs Format.
type AnalysisRequest struct {
	Path      string
	Source    io.Reader
	Format    string
	InputName string

	Columns did.Columns

	// Per-run overrides of the engine options
	TreatedArm   string
	Cutover      string
	NoEventStudy bool

	// OutputDir overrides <output base>/<input>_did_analysis
	OutputDir  string
	SkipReport bool
}

// AnalysisResult is the report plus the files written for it
type AnalysisResult struct {
	Report    *did.Report   `json:"report"`
	Artifacts did.Artifacts `json:"artifacts"`
}

type columnsCheck struct {
	Treatment string `validate:"required"`
	Outcome   string `validate:"required"`
	Time      string `validate:"required"`
	Group     string `validate:"required"`
}

// ServiceOption configures optional collaborators
type ServiceOption func(*AnalysisService)

// WithReportWriter enables report artifacts
func WithReportWriter(w ports.ReportWriter) ServiceOption {
	return func(s *AnalysisService) { s.writer = w }
}

// WithRunRepository enables the run archive
func WithRunRepository(r ports.RunRepository) ServiceOption {
	return func(s *AnalysisService) { s.runs = r }
}

// WithMetrics enables run counters
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *AnalysisService) { s.metrics = m }
}

// WithOutputDir sets the base directory for report artifacts
func WithOutputDir(dir string) ServiceOption {
	return func(s *AnalysisService) { s.outputDir = dir }
}

// WithMaxConcurrentRuns bounds how many analyses run at once; further
// requests wait for a free slot or for their context to end
func WithMaxConcurrentRuns(n int) ServiceOption {
	return func(s *AnalysisService) {
		if n > 0 {
			s.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewAnalysisService creates the service
func NewAnalysisService(reader ports.TableReader, options causal.Options, logger *internal.Logger, opts ...ServiceOption) *AnalysisService {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	s := &AnalysisService{
		reader:   reader,
		options:  options,
		logger:   logger.Named("analysis"),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze runs the full pipeline. Only input and schema problems return an
// error; branch failures live in the report. A failed archive write is
// logged and counted but does not fail the run.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	start := time.Now()
	result, err := s.analyze(ctx, req)
	if s.metrics != nil {
		var r *did.Report
		if result != nil {
			r = result.Report
		}
		s.metrics.RecordRun(r, time.Since(start))
	}
	return result, err
}

func (s *AnalysisService) analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if err := s.validate.Struct(columnsCheck{
		Treatment: req.Columns.Treatment,
		Outcome:   req.Columns.Outcome,
		Time:      req.Columns.Time,
		Group:     req.Columns.Group,
	}); err != nil {
		return nil, errors.SchemaError("treatment, outcome, time and group columns are required: %v", err)
	}

	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return nil, errors.WithCode(errors.CodeFitBudget, fmt.Errorf("analysis not started, no free run slot: %w", err))
		}
		defer s.slots.Release(1)
	}

	inputName := req.InputName
	if inputName == "" && req.Path != "" {
		inputName = filepath.Base(req.Path)
	}
	if inputName == "" {
		inputName = "upload"
	}

	frame, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded %s: %d rows, %d columns", inputName, frame.Len(), len(frame.Names()))

	engine := causal.NewEngine(s.runOptions(req), s.logger)
	r, err := engine.Run(ctx, frame, req.Columns)
	if err != nil {
		return nil, err
	}

	result := &AnalysisResult{Report: r}
	if s.writer != nil && !req.SkipReport {
		dir := req.OutputDir
		if dir == "" {
			dir = report.DefaultOutputDir(s.outputDir, inputName)
		}
		artifacts, err := s.writer.Write(ctx, r, dir)
		if err != nil {
			return result, errors.Wrap(err, "failed to write report")
		}
		result.Artifacts = artifacts
	}

	if s.runs != nil {
		if err := s.runs.SaveRun(ctx, inputName, r, result.Artifacts); err != nil {
			s.logger.Error("failed to archive run %s: %v", r.RunID, err)
			if s.metrics != nil {
				s.metrics.IncrementArchiveError()
			}
		}
	}
	return result, nil
}

func (s *AnalysisService) load(ctx context.Context, req AnalysisRequest) (*panel.Frame, error) {
	switch {
	case req.Source != nil:
		format := formatOf(req)
		if format == "" {
			return nil, errors.InvalidInput("upload format is required (csv, xlsx or json)")
		}
		return s.reader.Decode(ctx, req.Source, format)
	case req.Path != "":
		return s.reader.Load(ctx, req.Path)
	default:
		return nil, errors.InvalidInput("no input file given")
	}
}

func (s *AnalysisService) runOptions(req AnalysisRequest) causal.Options {
	opts := s.options
	if req.TreatedArm != "" {
		opts.TreatedArm = req.TreatedArm
		opts.ArmRule = config.ArmRuleExplicit
	}
	if req.Cutover != "" {
		opts.Cutover = req.Cutover
	}
	if req.NoEventStudy {
		opts.EventStudy = false
	}
	return opts
}

// GetRun returns an archived run
func (s *AnalysisService) GetRun(ctx context.Context, id string) (*did.RunRecord, error) {
	if s.runs == nil {
		return nil, errors.NotFound("run archive")
	}
	runID, err := core.ParseRunID(id)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	return s.runs.GetRun(ctx, runID)
}

// ListRuns returns recent archived runs; without an archive the list is empty
func (s *AnalysisService) ListRuns(ctx context.Context, limit int) ([]did.RunSummary, error) {
	if s.runs == nil {
		return []did.RunSummary{}, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

func formatOf(req AnalysisRequest) string {
	if req.Format != "" {
		return strings.ToLower(strings.TrimPrefix(req.Format, "."))
	}
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(req.InputName), "."))
}
