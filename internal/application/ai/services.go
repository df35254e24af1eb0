package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/brainvol/internal/application"
	"github.com/bryanwahyu/brainvol/internal/domain/ai"
	"github.com/bryanwahyu/brainvol/internal/domain/analyses"
	"github.com/bryanwahyu/brainvol/internal/domain/interpretations"
)

// maxSummaryRegions caps how many regions are spelled out for the model.
const maxSummaryRegions = 25

// RunSource loads a finished run together with its artifact.
type RunSource interface {
	LoadArtifact(ctx context.Context, id analyses.RunID) (*analyses.AnalysisRun, *analyses.Artifact, error)
}

type Service struct {
	Client ai.Client // nil disables interpretation
	Runs   RunSource
	Repo   interpretations.Repository
	Clock  application.Clock
	Model  string
}

// InterpretRun asks the model to read a succeeded run's artifact and stores
// the reply. Runs that are not succeeded report analyses.ErrNotFound.
func (s *Service) InterpretRun(ctx context.Context, id analyses.RunID) (*interpretations.Interpretation, error) {
	if s.Client == nil {
		return nil, ai.ErrDisabled
	}
	run, art, err := s.Runs.LoadArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.Client.Interpret(ctx, run.ArtifactURL, Summarize(art))
	if err != nil {
		return nil, err
	}
	it := &interpretations.Interpretation{
		ID:          interpretations.ID(uuid.NewString()),
		RunID:       string(run.ID),
		ArtifactURL: run.ArtifactURL,
		Model:       s.Model,
		Result:      result,
		CreatedAt:   application.ClockOrSystem(s.Clock).Now(),
	}
	if err := s.Repo.Save(ctx, it); err != nil {
		return nil, fmt.Errorf("save interpretation: %w", err)
	}
	return it, nil
}

// ListInterpretations returns stored interpretations of a run, newest first.
func (s *Service) ListInterpretations(ctx context.Context, id analyses.RunID, limit int) ([]*interpretations.Interpretation, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.Repo.ListByRun(ctx, string(id), limit)
}

// Summarize renders the parts of an artifact a reader needs: the design,
// then significant regions, then the strongest of the rest.
func Summarize(a *analyses.Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run: %s (%s)\n", a.RunID, a.Name)
	fmt.Fprintf(&b, "test: %s on %s\n", a.TestKind, a.DependentVariable)
	if a.GroupingVariable != "" {
		fmt.Fprintf(&b, "grouping: %s levels=%s\n", a.GroupingVariable, strings.Join(a.Levels, ","))
	}
	if a.Covariate != "" {
		fmt.Fprintf(&b, "covariate: %s\n", a.Covariate)
	}
	fmt.Fprintf(&b, "cohort: %d subjects\n", a.CohortSize)
	fmt.Fprintf(&b, "correction: %s alpha=%g\n", a.Correction, a.Alpha)
	fmt.Fprintf(&b, "regions: tested=%d excluded=%d significant=%d\n", a.Tested, a.Excluded, len(a.Significant()))

	tested := make([]analyses.RegionResult, 0, len(a.Regions))
	for _, r := range a.Regions {
		if r.Status == analyses.RegionTested && r.PCorrected != nil {
			tested = append(tested, r)
		}
	}
	sort.SliceStable(tested, func(i, j int) bool {
		if tested[i].Significant != tested[j].Significant {
			return tested[i].Significant
		}
		return *tested[i].PCorrected < *tested[j].PCorrected
	})
	if len(tested) > maxSummaryRegions {
		tested = tested[:maxSummaryRegions]
	}
	b.WriteString("region | n | statistic | p | p_corrected | significant | detail\n")
	for _, r := range tested {
		fmt.Fprintf(&b, "%s | %d | %s | %s | %s | %t | %s\n",
			r.Region, r.N, num(r.Statistic), num(r.PValue), num(r.PCorrected), r.Significant, detail(r))
	}
	return b.String()
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4g", *v)
}

func detail(r analyses.RegionResult) string {
	var parts []string
	if r.Effect != nil {
		parts = append(parts, "effect="+num(r.Effect))
	}
	levels := make([]string, 0, len(r.GroupMeans))
	for l := range r.GroupMeans {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	for _, l := range levels {
		parts = append(parts, fmt.Sprintf("mean[%s]=%.4g", l, r.GroupMeans[l]))
	}
	return strings.Join(parts, " ")
}
