package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appai "github.com/bryanwahyu/brainvol/internal/application/ai"
	appanalyses "github.com/bryanwahyu/brainvol/internal/application/analyses"
	"github.com/bryanwahyu/brainvol/internal/application/segmentation"
	appsubjects "github.com/bryanwahyu/brainvol/internal/application/subjects"
	appvolumes "github.com/bryanwahyu/brainvol/internal/application/volumes"
	"github.com/bryanwahyu/brainvol/internal/application/watcher"
	domai "github.com/bryanwahyu/brainvol/internal/domain/ai"
	"github.com/bryanwahyu/brainvol/internal/domain/analyses"
	domseg "github.com/bryanwahyu/brainvol/internal/domain/segmentation"
	"github.com/bryanwahyu/brainvol/internal/domain/subjects"
	"github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/infra/storage"
	"github.com/bryanwahyu/brainvol/internal/middleware"
)

// Services are the use-cases served over HTTP. AI may be nil.
type Services struct {
	Watcher      *watcher.Watcher
	Registry     *appsubjects.Registry
	Segmentation *segmentation.Service
	Volumes      *appvolumes.Aggregator
	Analyses     *appanalyses.Tracker
	AI           *appai.Service
}

// Options configure the middleware stack.
type Options struct {
	APIKeys     map[string]string // empty disables auth
	CORSOrigins []string
	RateLimit   int // requests per second per client, 0 disables
	Checks      map[string]middleware.HealthChecker // /health
	Ready       map[string]middleware.HealthChecker // /health/ready
	Logger      *log.Logger
}

type Router struct {
	svc Services
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func NewRouter(svc Services, opts Options) http.Handler {
	r := &Router{svc: svc}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware(opts.Logger))
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if len(opts.APIKeys) > 0 {
		mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	}
	if opts.RateLimit > 0 {
		mux.Use(middleware.RateLimitMiddleware(opts.RateLimit*2, opts.RateLimit))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checks))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.ReadinessHandler(opts.Ready))
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/processor/update-db", r.wrap(r.handleUpdateDB))
		rt.Post("/processor/segment", r.wrap(r.handleSegment))
		rt.Post("/processor/update-table", r.wrap(r.handleUpdateTable))

		rt.Get("/subjects", r.wrap(r.handleSubjects))
		rt.Get("/subjects/{id}", r.wrap(r.handleSubject))
		rt.Get("/volumes.csv", r.wrap(r.handleVolumesCSV))

		rt.Post("/analyses", r.wrap(r.handleSubmitAnalysis))
		rt.Get("/analyses", r.wrap(r.handleAnalyses))
		rt.Get("/analyses/{id}", r.wrap(r.handleAnalysis))
		rt.Get("/analyses/{id}/artifact", r.wrap(r.handleArtifact))
		rt.Post("/analyses/{id}/interpret", r.wrap(r.handleInterpret))
		rt.Get("/analyses/{id}/interpretations", r.wrap(r.handleInterpretations))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				log.Printf("method=%s path=%s err=%v", req.Method, req.URL.Path, err)
			}
			writeJSON(w, code, map[string]string{"error": err.Error()})
		}
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, subjects.ErrNotFound),
		errors.Is(err, analyses.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domseg.ErrAlreadyProcessing),
		errors.Is(err, subjects.ErrInvalidTransition),
		errors.Is(err, subjects.ErrStatusConflict),
		errors.Is(err, volumes.ErrNotProcessed):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, analyses.ErrInvalidRequest),
		errors.Is(err, analyses.ErrEmptyCohort):
		return http.StatusBadRequest
	case errors.Is(err, analyses.ErrDegenerateGrouping),
		errors.Is(err, analyses.ErrInvalidVariable),
		errors.Is(err, volumes.ErrMissingOutputTable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domai.ErrDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// POST /v1/processor/update-db
func (r *Router) handleUpdateDB(w http.ResponseWriter, req *http.Request) error {
	rep, err := r.svc.Watcher.RunOnce(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rep)
}

// POST /v1/processor/segment
// Body: {"subject_ids": ["subjA", ...]}
func (r *Router) handleSegment(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		SubjectIDs []string `json:"subject_ids"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateSubjectIDs(body.SubjectIDs); err != nil {
		return badRequest("%v", err)
	}

	results := r.svc.Segmentation.Dispatch(req.Context(), body.SubjectIDs...)
	// a single-subject request reports its own error status
	if len(results) == 1 && results[0].Err != nil {
		return results[0].Err
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

// POST /v1/processor/update-table
// Body: {"subject_id": "subjA"} or empty for a full rebuild
func (r *Router) handleUpdateTable(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		SubjectID string `json:"subject_id"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	if body.SubjectID == "" {
		rep, err := r.svc.Volumes.RebuildFullTable(req.Context())
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, rep)
	}
	if err := middleware.ValidateSubjectID(body.SubjectID); err != nil {
		return badRequest("%v", err)
	}
	n, err := r.svc.Volumes.UpdateFromSubject(req.Context(), body.SubjectID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"subject_id": body.SubjectID, "rows": n})
}

// GET /v1/subjects?status=&orphaned=true
func (r *Router) handleSubjects(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	f := subjects.Filter{Status: subjects.Status(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		return badRequest("unknown status %q", f.Status)
	}
	if v := q.Get("orphaned"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest("orphaned must be a boolean")
		}
		f.IncludeOrphaned = b
	}

	list, err := r.svc.Registry.List(req.Context(), f)
	if err != nil {
		return err
	}
	table, err := r.svc.Registry.LoadFeatures(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, appsubjects.WithFeatures(list, table))
}

// GET /v1/subjects/{id}
func (r *Router) handleSubject(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateSubjectID(id); err != nil {
		return badRequest("%v", err)
	}
	s, err := r.svc.Registry.Get(req.Context(), id)
	if err != nil {
		return err
	}
	table, err := r.svc.Registry.LoadFeatures(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, appsubjects.WithFeatures([]*subjects.Subject{s}, table)[0])
}

// GET /v1/volumes.csv?measure=volume
func (r *Router) handleVolumesCSV(w http.ResponseWriter, req *http.Request) error {
	m := volumes.Measure(req.URL.Query().Get("measure"))
	if m == "" {
		m = volumes.MeasureVolume
	}
	if !m.Valid() {
		return badRequest("unknown measure %q", m)
	}
	var buf bytes.Buffer
	if err := r.svc.Volumes.ExportWide(req.Context(), m, &buf); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(m)+".csv"))
	_, err := buf.WriteTo(w)
	return err
}

// POST /v1/analyses
func (r *Router) handleSubmitAnalysis(w http.ResponseWriter, req *http.Request) error {
	var body appanalyses.Request
	if err := decode(req, &body); err != nil {
		return err
	}
	body.Name = middleware.SanitizeString(body.Name)

	run, err := r.svc.Analyses.Submit(req.Context(), body)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, run)
}

// GET /v1/analyses?subject=&status=&limit=
func (r *Router) handleAnalyses(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	f := analyses.ListFilter{
		SubjectID: q.Get("subject"),
		Status:    analyses.Status(q.Get("status")),
		Limit:     middleware.ValidateLimit(limit),
	}
	if f.SubjectID != "" {
		if err := middleware.ValidateSubjectID(f.SubjectID); err != nil {
			return badRequest("%v", err)
		}
	}
	list, err := r.svc.Analyses.List(req.Context(), f)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

func runID(req *http.Request) (analyses.RunID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return "", badRequest("%v", err)
	}
	return analyses.RunID(strings.ToLower(id)), nil
}

// GET /v1/analyses/{id}
func (r *Router) handleAnalysis(w http.ResponseWriter, req *http.Request) error {
	id, err := runID(req)
	if err != nil {
		return err
	}
	run, err := r.svc.Analyses.Get(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, run)
}

// GET /v1/analyses/{id}/artifact
func (r *Router) handleArtifact(w http.ResponseWriter, req *http.Request) error {
	id, err := runID(req)
	if err != nil {
		return err
	}
	rc, err := r.svc.Analyses.OpenArtifact(req.Context(), id)
	if err != nil {
		return err
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/json")
	_, err = io.Copy(w, rc)
	return err
}

// POST /v1/analyses/{id}/interpret
func (r *Router) handleInterpret(w http.ResponseWriter, req *http.Request) error {
	if r.svc.AI == nil {
		return domai.ErrDisabled
	}
	id, err := runID(req)
	if err != nil {
		return err
	}
	it, err := r.svc.AI.InterpretRun(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, it)
}

// GET /v1/analyses/{id}/interpretations?limit=
func (r *Router) handleInterpretations(w http.ResponseWriter, req *http.Request) error {
	if r.svc.AI == nil {
		return domai.ErrDisabled
	}
	id, err := runID(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.svc.AI.ListInterpretations(req.Context(), id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}
