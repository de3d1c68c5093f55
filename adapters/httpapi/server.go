package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"didlab/app"
	"didlab/domain/did"
	"didlab/internal"
	"didlab/internal/errors"
	"didlab/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultListLimit = 50

// Server exposes the analysis service over HTTP
type Server struct {
	router         *chi.Mux
	service        *app.AnalysisService
	metrics        *metrics.Metrics
	maxUploadBytes int64
	logger         *internal.Logger
}

// NewServer builds the router. metrics may be nil, in which case /metrics is
// not mounted.
func NewServer(service *app.AnalysisService, m *metrics.Metrics, maxUploadBytes int64, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	s := &Server{
		router:         chi.NewRouter(),
		service:        service,
		metrics:        m,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.Named("http"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/v1/analyses", func(r chi.Router) {
		r.Post("/", s.handleCreateAnalysis)
		r.Get("/", s.handleListAnalyses)
		r.Get("/{id}", s.handleGetAnalysis)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateAnalysis takes a multipart upload: the table in "file" and the
// column names as form fields.
func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.writeError(w, errors.InvalidInput("expected a multipart upload: "+err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, errors.InvalidInput("missing file field"))
		return
	}
	defer file.Close()

	format := r.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}

	req := app.AnalysisRequest{
		Source:    file,
		Format:    format,
		InputName: header.Filename,
		Columns: did.Columns{
			Treatment:  r.FormValue("treatment"),
			Outcome:    r.FormValue("outcome"),
			Time:       r.FormValue("time"),
			Group:      r.FormValue("group"),
			Covariates: splitList(r.FormValue("covariates")),
		},
		TreatedArm:   r.FormValue("treated_arm"),
		Cutover:      r.FormValue("cutover"),
		NoEventStudy: formBool(r.FormValue("no_event_study")),
		SkipReport:   !formBool(r.FormValue("write_report")),
	}

	result, err := s.service.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, errors.InvalidInput("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := s.service.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func statusFor(code string) int {
	switch code {
	case errors.CodeInvalidInput, errors.CodeValidationError:
		return http.StatusBadRequest
	case errors.CodeSchema:
		return http.StatusUnprocessableEntity
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeFitBudget:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formBool(raw string) bool {
	b, err := strconv.ParseBool(raw)
	return err == nil && b
}
