package analyses

import (
	"time"

	"github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/stats"
)

// RunID identifier type
type RunID string

// Status enum. A run leaves running exactly once.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// TestKind enum
type TestKind string

const (
	TestTTest      TestKind = "t-test"
	TestANOVA      TestKind = "anova"
	TestRegression TestKind = "regression"
	TestPearson    TestKind = "pearson"
	TestSpearman   TestKind = "spearman"
)

// Valid reports whether k is a known test.
func (k TestKind) Valid() bool {
	switch k {
	case TestTTest, TestANOVA, TestRegression, TestPearson, TestSpearman:
		return true
	}
	return false
}

// Grouped reports whether the test compares levels of a categorical variable.
// The other tests use a numeric covariate.
func (k TestKind) Grouped() bool {
	return k == TestTTest || k == TestANOVA
}

// AnalysisRun is one recorded statistical analysis invocation.
type AnalysisRun struct {
	ID                RunID            `json:"id"`
	Name              string           `json:"name"`
	CreatedAt         time.Time        `json:"created_at"`
	FinishedAt        *time.Time       `json:"finished_at,omitempty"`
	Cohort            []string         `json:"cohort"`
	DependentVariable volumes.Measure  `json:"dependent_variable"`
	GroupingVariable  string           `json:"grouping_variable,omitempty"`
	Covariate         string           `json:"covariate,omitempty"`
	TestKind          TestKind         `json:"test_kind"`
	Correction        stats.Correction `json:"correction"`
	Alpha             float64          `json:"alpha"`
	Status            Status           `json:"status"`
	ArtifactKey       string           `json:"artifact_key,omitempty"`
	ArtifactURL       string           `json:"artifact_url,omitempty"`
	ChartURL          string           `json:"chart_url,omitempty"`
	Diagnostic        string           `json:"diagnostic,omitempty"`
}

// Succeed records the artifact pointers and closes the run.
func (r *AnalysisRun) Succeed(key, url, chartURL string, at time.Time) {
	r.Status = StatusSucceeded
	r.ArtifactKey = key
	r.ArtifactURL = url
	r.ChartURL = chartURL
	r.Diagnostic = ""
	r.FinishedAt = &at
}

// Fail closes the run without an artifact.
func (r *AnalysisRun) Fail(diagnostic string, at time.Time) {
	r.Status = StatusFailed
	r.ArtifactKey = ""
	r.ArtifactURL = ""
	r.ChartURL = ""
	r.Diagnostic = diagnostic
	r.FinishedAt = &at
}
