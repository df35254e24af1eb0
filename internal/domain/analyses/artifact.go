package analyses

import (
	"encoding/json"
	"io"
	"time"

	"github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/stats"
)

// RegionStatus enum
type RegionStatus string

const (
	RegionTested           RegionStatus = "tested"
	RegionInsufficientData RegionStatus = "insufficient_data"
)

// RegionResult is one row of the artifact. Statistic fields are nil for
// regions excluded as insufficient_data.
type RegionResult struct {
	Region      string             `json:"region"`
	Hemisphere  volumes.Hemisphere `json:"hemisphere"`
	Status      RegionStatus       `json:"status"`
	N           int                `json:"n"`
	Statistic   *float64           `json:"statistic"`
	PValue      *float64           `json:"p_value"`
	PCorrected  *float64           `json:"p_corrected"`
	Significant bool               `json:"significant"`
	Effect      *float64           `json:"effect,omitempty"`
	GroupMeans  map[string]float64 `json:"group_means,omitempty"`
	GroupSizes  map[string]int     `json:"group_sizes,omitempty"`
}

// Artifact is the write-once result document of a run.
type Artifact struct {
	RunID             RunID            `json:"run_id"`
	Name              string           `json:"name"`
	TestKind          TestKind         `json:"test_kind"`
	Correction        stats.Correction `json:"correction"`
	Alpha             float64          `json:"alpha"`
	DependentVariable volumes.Measure  `json:"dependent_variable"`
	GroupingVariable  string           `json:"grouping_variable,omitempty"`
	Covariate         string           `json:"covariate,omitempty"`
	CohortSize        int              `json:"cohort_size"`
	CreatedAt         time.Time        `json:"created_at"`
	Levels            []string         `json:"levels,omitempty"`
	Tested            int              `json:"tested"`
	Excluded          int              `json:"excluded"`
	Regions           []RegionResult   `json:"regions"`
}

// NewArtifact combines run metadata with an engine outcome.
func NewArtifact(run *AnalysisRun, out *Outcome) *Artifact {
	return &Artifact{
		RunID:             run.ID,
		Name:              run.Name,
		TestKind:          run.TestKind,
		Correction:        run.Correction,
		Alpha:             run.Alpha,
		DependentVariable: run.DependentVariable,
		GroupingVariable:  run.GroupingVariable,
		Covariate:         run.Covariate,
		CohortSize:        len(run.Cohort),
		CreatedAt:         run.CreatedAt,
		Levels:            out.Levels,
		Tested:            out.Tested,
		Excluded:          len(out.Regions) - out.Tested,
		Regions:           out.Regions,
	}
}

// Write encodes the artifact as indented JSON.
func (a *Artifact) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// ReadArtifact decodes an artifact document.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Significant returns the tested regions flagged significant, in artifact order.
func (a *Artifact) Significant() []RegionResult {
	var out []RegionResult
	for _, r := range a.Regions {
		if r.Significant {
			out = append(out, r)
		}
	}
	return out
}
