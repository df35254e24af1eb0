// Package analyses records and executes statistical analysis runs.
package analyses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bryanwahyu/brainvol/internal/application"
	domain "github.com/bryanwahyu/brainvol/internal/domain/analyses"
	"github.com/bryanwahyu/brainvol/internal/domain/subjects"
	"github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/stats"
)

// JobKind is reported to the JobObserver.
const JobKind = "analysis"

// DiagnosticInterrupted is recorded on runs a dead process left running.
const DiagnosticInterrupted = "interrupted: tracker restarted"

const maxDiagnostic = 1024

// SubjectSource resolves cohort members and their features.
type SubjectSource interface {
	Get(ctx context.Context, id string) (*subjects.Subject, error)
	LoadFeatures(ctx context.Context) (*subjects.FeatureTable, error)
}

// Tracker implements the analysis-run use-cases. Runs execute in the
// background and are not cancellable once submitted.
type Tracker struct {
	Repo         domain.Repository
	Subjects     SubjectSource
	Measurements volumes.Repository
	Artifacts    domain.ArtifactStore
	Charts       domain.ChartRenderer // optional
	Engine       domain.Engine
	Observer     application.JobObserver
	Leases       *application.Leaser // nil: runs are tracked in this process only
	Clock        application.Clock
	WorkDir      string // scratch dir for artifacts before upload
	Correction   stats.Correction
	Alpha        float64
	Logger       *log.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight map[domain.RunID]struct{}
}

// Request submits a run.
type Request struct {
	Name              string           `json:"name"`
	Cohort            []string         `json:"cohort"`
	DependentVariable volumes.Measure  `json:"dependent_variable"`
	GroupingVariable  string           `json:"grouping_variable,omitempty"`
	Covariate         string           `json:"covariate,omitempty"`
	TestKind          domain.TestKind  `json:"test_kind"`
	Correction        stats.Correction `json:"correction,omitempty"`
	Alpha             float64          `json:"alpha,omitempty"`
}

func (t *Tracker) now() time.Time { return application.ClockOrSystem(t.Clock).Now() }

func (t *Tracker) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Submit validates req, records the run as running and starts it.
func (t *Tracker) Submit(ctx context.Context, req Request) (*domain.AnalysisRun, error) {
	run, err := t.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := t.Leases.Acquire(ctx, JobKind, string(run.ID)); err != nil {
		return nil, fmt.Errorf("lease analysis run: %w", err)
	}
	if err := t.Repo.Create(ctx, run); err != nil {
		t.Leases.Release(JobKind, string(run.ID))
		return nil, fmt.Errorf("create analysis run: %w", err)
	}
	t.logf("analysis: submitted run=%s test=%s cohort=%d", run.ID, run.TestKind, len(run.Cohort))

	t.mu.Lock()
	if t.inflight == nil {
		t.inflight = make(map[domain.RunID]struct{})
	}
	t.inflight[run.ID] = struct{}{}
	t.mu.Unlock()

	snapshot := *run
	snapshot.Cohort = append([]string(nil), run.Cohort...)
	t.wg.Add(1)
	go t.execute(&snapshot)
	return run, nil
}

func (t *Tracker) validate(ctx context.Context, req Request) (*domain.AnalysisRun, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest)
	}
	if !req.TestKind.Valid() {
		return nil, fmt.Errorf("%w: unknown test kind %q", domain.ErrInvalidRequest, req.TestKind)
	}
	measure := req.DependentVariable
	if measure == "" {
		measure = volumes.MeasureVolume
	}
	if !measure.Valid() {
		return nil, fmt.Errorf("%w: unknown dependent variable %q", domain.ErrInvalidRequest, measure)
	}

	correction := req.Correction
	if correction == "" {
		correction = t.Correction
	}
	correction, err := stats.ParseCorrection(string(correction))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	alpha := req.Alpha
	if alpha == 0 {
		alpha = t.Alpha
	}
	if alpha == 0 {
		alpha = domain.DefaultAlpha
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("%w: alpha must be in (0, 1), got %g", domain.ErrInvalidRequest, alpha)
	}

	cohort := dedupe(req.Cohort)
	if len(cohort) == 0 {
		return nil, domain.ErrEmptyCohort
	}
	members := make([]*subjects.Subject, 0, len(cohort))
	for _, id := range cohort {
		s, err := t.Subjects.Get(ctx, id)
		if err != nil {
			if errors.Is(err, subjects.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown subject %q", domain.ErrInvalidRequest, id)
			}
			return nil, err
		}
		members = append(members, s)
	}

	run := &domain.AnalysisRun{
		ID:                domain.RunID(uuid.New().String()),
		Name:              name,
		CreatedAt:         t.now(),
		Cohort:            cohort,
		DependentVariable: measure,
		TestKind:          req.TestKind,
		Correction:        correction,
		Alpha:             alpha,
		Status:            domain.StatusRunning,
	}

	features, err := t.Subjects.LoadFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}
	variable := strings.TrimSpace(req.GroupingVariable)
	if !req.TestKind.Grouped() {
		variable = strings.TrimSpace(req.Covariate)
	}
	if variable == "" {
		return nil, fmt.Errorf("%w: %s needs a %s", domain.ErrInvalidRequest, req.TestKind, variableRole(req.TestKind))
	}
	col, ok := features.Column(variable)
	if !ok {
		return nil, fmt.Errorf("%w: no feature column %q", domain.ErrInvalidVariable, variable)
	}
	if req.TestKind.Grouped() {
		levels := make(map[string]bool)
		for _, s := range members {
			if attrs, ok := features.Lookup(s.FileName); ok && attrs[variable] != "" {
				levels[attrs[variable]] = true
			}
		}
		if len(levels) < 2 {
			return nil, fmt.Errorf("%w: %q has %d level(s) in the cohort", domain.ErrDegenerateGrouping, variable, len(levels))
		}
		if req.TestKind == domain.TestTTest && len(levels) > 2 {
			return nil, fmt.Errorf("%w: t-test needs exactly two levels of %q, got %d", domain.ErrInvalidVariable, variable, len(levels))
		}
		run.GroupingVariable = variable
	} else {
		if col.Kind != subjects.ColumnNumeric {
			return nil, fmt.Errorf("%w: %s needs a numeric covariate, %q is %s", domain.ErrInvalidVariable, req.TestKind, variable, col.Kind)
		}
		run.Covariate = variable
	}
	return run, nil
}

func variableRole(k domain.TestKind) string {
	if k.Grouped() {
		return "grouping variable"
	}
	return "covariate"
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// execute runs the engine and closes the run. It owns run.
func (t *Tracker) execute(run *domain.AnalysisRun) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.inflight, run.ID)
		t.mu.Unlock()
	}()
	defer t.Leases.Release(JobKind, string(run.ID))
	defer t.Leases.Keep(JobKind, string(run.ID))()

	obs := application.ObserverOrNop(t.Observer)
	obs.JobStarted(JobKind)
	failed := true
	defer func() {
		if r := recover(); r != nil {
			t.logf("analysis: panic run=%s: %v", run.ID, r)
			t.finish(run, fmt.Errorf("internal error: %v", r))
		}
		obs.JobFinished(JobKind, failed)
	}()

	ctx := context.Background()
	key, url, chartURL, err := t.produce(ctx, run)
	if err != nil {
		t.finish(run, err)
		return
	}
	run.Succeed(key, url, chartURL, t.now())
	if err := t.Repo.Finish(ctx, run); err != nil {
		t.logf("analysis: record success run=%s err=%v", run.ID, err)
		return
	}
	failed = false
	t.logf("analysis: done run=%s artifact=%s", run.ID, url)
}

// produce computes and stores the artifact, returning its key and URLs.
func (t *Tracker) produce(ctx context.Context, run *domain.AnalysisRun) (key, url, chartURL string, err error) {
	ds, err := t.dataset(ctx, run)
	if err != nil {
		return "", "", "", err
	}
	out, err := t.Engine.Run(ds, domain.Params{Kind: run.TestKind, Correction: run.Correction, Alpha: run.Alpha})
	if err != nil {
		return "", "", "", err
	}
	artifact := domain.NewArtifact(run, out)

	tmp, err := os.CreateTemp(t.WorkDir, "analysis-*.json")
	if err != nil {
		return "", "", "", err
	}
	if err := artifact.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", "", "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", "", "", err
	}
	key = artifactKey(run.ID, "result.json")
	url, err = t.Artifacts.UploadAndCleanup(ctx, tmp.Name(), key)
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", "", fmt.Errorf("upload artifact: %w", err)
	}

	if t.Charts != nil && out.Tested > 0 {
		chartURL = t.chart(ctx, run.ID, artifact)
	}
	return key, url, chartURL, nil
}

// chart is best effort; a failed chart never fails the run.
func (t *Tracker) chart(ctx context.Context, id domain.RunID, a *domain.Artifact) string {
	tmp, err := os.CreateTemp(t.WorkDir, "analysis-*.png")
	if err != nil {
		t.logf("analysis: chart run=%s err=%v", id, err)
		return ""
	}
	path := tmp.Name()
	tmp.Close()
	if err := t.Charts.Render(a, path); err != nil {
		os.Remove(path)
		t.logf("analysis: chart run=%s err=%v", id, err)
		return ""
	}
	url, err := t.Artifacts.UploadAndCleanup(ctx, path, artifactKey(id, "significance.png"))
	if err != nil {
		os.Remove(path)
		t.logf("analysis: chart upload run=%s err=%v", id, err)
		return ""
	}
	return url
}

func artifactKey(id domain.RunID, file string) string {
	return "analyses/" + string(id) + "/" + file
}

func (t *Tracker) finish(run *domain.AnalysisRun, cause error) {
	run.Fail(truncateDiagnostic(cause.Error(), maxDiagnostic), t.now())
	if err := t.Repo.Finish(context.Background(), run); err != nil {
		t.logf("analysis: record failure run=%s err=%v", run.ID, err)
		return
	}
	t.logf("analysis: failed run=%s err=%v", run.ID, cause)
}

// truncateDiagnostic cuts s to at most n bytes without splitting a rune.
func truncateDiagnostic(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// dataset resolves the cohort's variable values and region measurements.
func (t *Tracker) dataset(ctx context.Context, run *domain.AnalysisRun) (*domain.Dataset, error) {
	features, err := t.Subjects.LoadFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}
	variable := run.GroupingVariable
	if !run.TestKind.Grouped() {
		variable = run.Covariate
		if col, ok := features.Column(variable); !ok || col.Kind != subjects.ColumnNumeric {
			return nil, fmt.Errorf("%w: covariate %q is not numeric", domain.ErrInvalidVariable, variable)
		}
	}

	rows, err := t.Measurements.List(ctx, volumes.Query{SubjectIDs: run.Cohort, Measure: run.DependentVariable})
	if err != nil {
		return nil, fmt.Errorf("load measurements: %w", err)
	}
	regions := make(map[string]map[string]float64, len(run.Cohort))
	ds := &domain.Dataset{Measure: run.DependentVariable, Hemispheres: make(map[string]volumes.Hemisphere)}
	for _, r := range rows {
		m, ok := regions[r.SubjectID]
		if !ok {
			m = make(map[string]float64)
			regions[r.SubjectID] = m
		}
		m[r.Region] = r.Value
		ds.Hemispheres[r.Region] = r.Hemisphere
	}

	for _, id := range run.Cohort {
		s, err := t.Subjects.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("cohort subject %s: %w", id, err)
		}
		o := domain.Observation{SubjectID: id, Regions: regions[id]}
		if attrs, ok := features.Lookup(s.FileName); ok {
			if run.TestKind.Grouped() {
				o.Group = attrs[variable]
			} else {
				o.Covariate, o.HasCovariate = features.Numeric(s.FileName, variable)
			}
		}
		ds.Observations = append(ds.Observations, o)
	}
	return ds, nil
}

func (t *Tracker) Get(ctx context.Context, id domain.RunID) (*domain.AnalysisRun, error) {
	return t.Repo.Get(ctx, id)
}

// List returns runs most-recent-first.
func (t *Tracker) List(ctx context.Context, f domain.ListFilter) ([]*domain.AnalysisRun, error) {
	return t.Repo.List(ctx, f)
}

// OpenArtifact streams the result document of a succeeded run.
func (t *Tracker) OpenArtifact(ctx context.Context, id domain.RunID) (io.ReadCloser, error) {
	run, err := t.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.StatusSucceeded || run.ArtifactKey == "" {
		return nil, fmt.Errorf("%w: run %s has no artifact (status %s)", domain.ErrNotFound, id, run.Status)
	}
	return t.Artifacts.Open(ctx, run.ArtifactKey)
}

// LoadArtifact decodes the result document of a succeeded run.
func (t *Tracker) LoadArtifact(ctx context.Context, id domain.RunID) (*domain.AnalysisRun, *domain.Artifact, error) {
	run, err := t.Repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := t.OpenArtifact(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	a, err := domain.ReadArtifact(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("decode artifact of %s: %w", id, err)
	}
	return run, a, nil
}

// Wait blocks until every submitted run has finished.
func (t *Tracker) Wait() { t.wg.Wait() }

// RecoverStale fails runs whose process is gone. Runs another live
// process still holds a lease on are left alone.
func (t *Tracker) RecoverStale(ctx context.Context) (int, error) {
	stale, err := t.Repo.List(ctx, domain.ListFilter{Status: domain.StatusRunning, Limit: 1000})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, run := range stale {
		t.mu.Lock()
		_, busy := t.inflight[run.ID]
		t.mu.Unlock()
		if busy {
			continue
		}
		abandoned, err := t.Leases.Abandoned(ctx, JobKind, string(run.ID))
		if err != nil {
			t.logf("analysis: recover run=%s err=%v", run.ID, err)
			continue
		}
		if !abandoned {
			continue
		}
		run.Fail(DiagnosticInterrupted, t.now())
		if err := t.Repo.Finish(ctx, run); err != nil {
			if !errors.Is(err, domain.ErrAlreadyFinished) {
				t.logf("analysis: recover run=%s err=%v", run.ID, err)
			}
			continue
		}
		n++
	}
	if n > 0 {
		t.logf("analysis: recovered %d interrupted runs", n)
	}
	return n, nil
}
