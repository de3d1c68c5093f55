package app

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"didlab/domain/core"
	"didlab/domain/did"
	"didlab/domain/panel"
	"didlab/internal/causal"
	"didlab/internal/errors"
	"didlab/internal/metrics"
	"didlab/internal/testkit"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTableReader struct {
	mock.Mock
}

func (m *MockTableReader) Load(ctx context.Context, path string) (*panel.Frame, error) {
	args := m.Called(ctx, path)
	frame, _ := args.Get(0).(*panel.Frame)
	return frame, args.Error(1)
}

func (m *MockTableReader) Decode(ctx context.Context, src io.Reader, format string) (*panel.Frame, error) {
	args := m.Called(ctx, src, format)
	frame, _ := args.Get(0).(*panel.Frame)
	return frame, args.Error(1)
}

type MockReportWriter struct {
	mock.Mock
}

func (m *MockReportWriter) Write(ctx context.Context, report *did.Report, dir string) (did.Artifacts, error) {
	args := m.Called(ctx, report, dir)
	return args.Get(0).(did.Artifacts), args.Error(1)
}

type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) SaveRun(ctx context.Context, inputName string, report *did.Report, artifacts did.Artifacts) error {
	return m.Called(ctx, inputName, report, artifacts).Error(0)
}

func (m *MockRunRepository) GetRun(ctx context.Context, id core.RunID) (*did.RunRecord, error) {
	args := m.Called(ctx, id)
	record, _ := args.Get(0).(*did.RunRecord)
	return record, args.Error(1)
}

func (m *MockRunRepository) ListRuns(ctx context.Context, limit int) ([]did.RunSummary, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]did.RunSummary), args.Error(1)
}

func (m *MockRunRepository) ListByFingerprint(ctx context.Context, fingerprint core.Hash) ([]did.RunSummary, error) {
	args := m.Called(ctx, fingerprint)
	return args.Get(0).([]did.RunSummary), args.Error(1)
}

var panelColumns = did.Columns{
	Treatment: testkit.ColArm,
	Outcome:   testkit.ColOutcome,
	Time:      testkit.ColPeriod,
	Group:     testkit.ColUnit,
}

func generatedFrame(t *testing.T) *panel.Frame {
	t.Helper()
	frame, err := testkit.NewPanelGenerator(testkit.DefaultPanelConfig()).Generate()
	require.NoError(t, err)
	return frame
}

func TestAnalyzeRunsPipeline(t *testing.T) {
	ctx := context.Background()
	reader := &MockTableReader{}
	writer := &MockReportWriter{}
	runs := &MockRunRepository{}
	m := metrics.NewMetrics()

	reader.On("Load", ctx, "data/stores.csv").Return(generatedFrame(t), nil)
	artifacts := did.Artifacts{Dir: "reports/stores_did_analysis", Markdown: "reports/stores_did_analysis/DID_Analysis_Report.md"}
	writer.On("Write", ctx, mock.AnythingOfType("*did.Report"), "reports/stores_did_analysis").Return(artifacts, nil)
	runs.On("SaveRun", ctx, "stores.csv", mock.AnythingOfType("*did.Report"), artifacts).Return(nil)

	svc := NewAnalysisService(reader, causal.DefaultOptions(), nil,
		WithReportWriter(writer), WithRunRepository(runs), WithMetrics(m), WithOutputDir("reports"))

	result, err := svc.Analyze(ctx, AnalysisRequest{Path: "data/stores.csv", Columns: panelColumns})
	require.NoError(t, err)
	require.NotNil(t, result.Report.DID)
	assert.InDelta(t, 0.15, result.Report.DID.Estimate.Estimate, 0.02)
	assert.Equal(t, artifacts, result.Artifacts)

	reader.AssertExpectations(t)
	writer.AssertExpectations(t)
	runs.AssertExpectations(t)
	count, err := testutil.GatherAndCount(m.Registry(), "didlab_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAnalyzeUploadOverrides(t *testing.T) {
	ctx := context.Background()
	reader := &MockTableReader{}
	src := strings.NewReader("ignored")
	reader.On("Decode", ctx, src, "csv").Return(generatedFrame(t), nil)

	svc := NewAnalysisService(reader, causal.DefaultOptions(), nil)
	result, err := svc.Analyze(ctx, AnalysisRequest{
		Source:       src,
		InputName:    "upload.CSV",
		Columns:      panelColumns,
		TreatedArm:   testkit.ArmControl,
		NoEventStudy: true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Report.EventStudy)
	assert.Equal(t, testkit.ArmControl, result.Report.TreatedArm)
	require.NotNil(t, result.Report.DID)
	assert.Less(t, result.Report.DID.Estimate.Estimate, 0.0)
	reader.AssertExpectations(t)
}

func TestAnalyzeRejectsIncompleteRequests(t *testing.T) {
	svc := NewAnalysisService(&MockTableReader{}, causal.DefaultOptions(), nil)

	_, err := svc.Analyze(context.Background(), AnalysisRequest{Path: "x.csv", Columns: did.Columns{Outcome: "y"}})
	assert.Equal(t, errors.CodeSchema, errors.GetCode(err))

	_, err = svc.Analyze(context.Background(), AnalysisRequest{Columns: panelColumns})
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = svc.Analyze(context.Background(), AnalysisRequest{Source: strings.NewReader(""), Columns: panelColumns})
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestAnalyzeSurvivesArchiveFailure(t *testing.T) {
	ctx := context.Background()
	reader := &MockTableReader{}
	runs := &MockRunRepository{}
	m := metrics.NewMetrics()
	reader.On("Load", ctx, "a.csv").Return(generatedFrame(t), nil)
	runs.On("SaveRun", ctx, "a.csv", mock.Anything, did.Artifacts{}).Return(errors.DatabaseError("down"))

	svc := NewAnalysisService(reader, causal.DefaultOptions(), nil, WithRunRepository(runs), WithMetrics(m))
	result, err := svc.Analyze(ctx, AnalysisRequest{Path: "a.csv", Columns: panelColumns})
	require.NoError(t, err)
	assert.NotNil(t, result.Report)
	runs.AssertExpectations(t)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "didlab_archive_errors_total 1")
}

func TestGetRunWithoutArchive(t *testing.T) {
	svc := NewAnalysisService(&MockTableReader{}, causal.DefaultOptions(), nil)

	_, err := svc.GetRun(context.Background(), core.NewRunID().String())
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	runs, err := svc.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGetRunParsesID(t *testing.T) {
	runs := &MockRunRepository{}
	svc := NewAnalysisService(&MockTableReader{}, causal.DefaultOptions(), nil, WithRunRepository(runs))

	_, err := svc.GetRun(context.Background(), "not-a-uuid")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	id := core.NewRunID()
	runs.On("GetRun", mock.Anything, id).Return(&did.RunRecord{RunSummary: did.RunSummary{RunID: id}}, nil)
	record, err := svc.GetRun(context.Background(), id.String())
	require.NoError(t, err)
	assert.Equal(t, id, record.RunID)
}

func TestAnalyzeWaitsForRunSlot(t *testing.T) {
	reader := &MockTableReader{}
	reader.On("Load", mock.Anything, "a.csv").Return(generatedFrame(t), nil).Twice()
	svc := NewAnalysisService(reader, causal.DefaultOptions(), nil, WithMaxConcurrentRuns(1))

	for i := 0; i < 2; i++ {
		_, err := svc.Analyze(context.Background(), AnalysisRequest{Path: "a.csv", Columns: panelColumns})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Analyze(ctx, AnalysisRequest{Path: "a.csv", Columns: panelColumns})
	require.Error(t, err)
	assert.Equal(t, errors.CodeFitBudget, errors.GetCode(err))
	reader.AssertNumberOfCalls(t, "Load", 2)
}
