package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/brainvol/internal/domain/analyses"
)

func f(v float64) *float64 { return &v }

func TestSignificanceChartWritesPNG(t *testing.T) {
	a := &analyses.Artifact{
		Name: "hippocampus by group", TestKind: analyses.TestTTest, Alpha: 0.05,
		Regions: []analyses.RegionResult{
			{Region: "lh_hippocampus", Status: analyses.RegionTested, PCorrected: f(0.001), Significant: true},
			{Region: "rh_hippocampus", Status: analyses.RegionTested, PCorrected: f(0.4)},
			{Region: "bi_brain_stem", Status: analyses.RegionInsufficientData},
			{Region: "lh_bankssts", Status: analyses.RegionTested, PCorrected: f(0)},
		},
	}
	path := filepath.Join(t.TempDir(), "significance.png")
	require.NoError(t, SignificanceChart{}.Render(a, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")))
}

func TestSignificanceChartNeedsTestedRegions(t *testing.T) {
	a := &analyses.Artifact{Alpha: 0.05, Regions: []analyses.RegionResult{{Region: "x", Status: analyses.RegionInsufficientData}}}
	err := SignificanceChart{}.Render(a, filepath.Join(t.TempDir(), "x.png"))
	assert.True(t, errors.Is(err, ErrNothingToPlot))
}
