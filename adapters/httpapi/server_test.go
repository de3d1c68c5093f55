package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"didlab/adapters/postgres"
	"didlab/adapters/tabular"
	"didlab/app"
	"didlab/domain/did"
	"didlab/internal/causal"
	"didlab/internal/errors"
	"didlab/internal/metrics"
	"didlab/internal/migration"
	"didlab/internal/testkit"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migration.NewRunner().Run(context.Background(), db))

	m := metrics.NewMetrics()
	svc := app.NewAnalysisService(tabular.NewReader(nil), causal.DefaultOptions(), nil,
		app.WithRunRepository(postgres.NewRunRepository(db)), app.WithMetrics(m))
	return NewServer(svc, m, 8<<20, nil)
}

func panelCSV(t *testing.T) []byte {
	t.Helper()
	frame, err := testkit.NewPanelGenerator(testkit.DefaultPanelConfig()).Generate()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, testkit.WriteCSV(&buf, frame))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, body []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var panelFields = map[string]string{
	"treatment": testkit.ColArm,
	"outcome":   testkit.ColOutcome,
	"time":      testkit.ColPeriod,
	"group":     testkit.ColUnit,
}

func TestCreateAndFetchAnalysis(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "stores.csv", panelCSV(t), panelFields))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created app.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.Report)
	require.NotNil(t, created.Report.DID)
	assert.InDelta(t, 0.15, created.Report.DID.Estimate.Estimate, 0.02)
	assert.Equal(t, testkit.ArmTreated, created.Report.TreatedArm)
	assert.Empty(t, created.Artifacts.Markdown)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+created.Report.RunID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var record did.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, created.Report.RunID, record.RunID)
	assert.Equal(t, "stores.csv", record.InputName)
	require.NotNil(t, record.Estimate)
	assert.InDelta(t, created.Report.DID.Estimate.Estimate, *record.Estimate, 1e-12)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []did.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 1)
}

func TestCreateAnalysisErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	missing := map[string]string{"treatment": testkit.ColArm, "outcome": "revenue", "time": testkit.ColPeriod, "group": testkit.ColUnit}
	srv.ServeHTTP(rec, uploadRequest(t, "stores.csv", panelCSV(t), missing))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "SCHEMA_ERROR")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "stores.parquet", []byte("x"), panelFields))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAnalysisErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "didlab_archive_errors_total")
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		errors.CodeInvalidInput:    http.StatusBadRequest,
		errors.CodeValidationError: http.StatusBadRequest,
		errors.CodeSchema:          http.StatusUnprocessableEntity,
		errors.CodeNotFound:        http.StatusNotFound,
		errors.CodeFitBudget:       http.StatusServiceUnavailable,
		errors.CodeDatabaseError:   http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(code), code)
	}
}
