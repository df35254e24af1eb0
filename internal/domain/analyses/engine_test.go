package analyses

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/stats"
)

// groupedDataset: lh_hippocampus is testable, rh_hippocampus has one M subject,
// bi_brain_stem has zero variance.
func groupedDataset() *Dataset {
	f := []float64{1, 2, 3, 4, 5}
	m := []float64{2, 4, 6, 8, 10}
	ds := &Dataset{Measure: volumes.MeasureVolume}
	for i := range f {
		ds.Observations = append(ds.Observations,
			Observation{SubjectID: fmt.Sprintf("f%d", i), Group: "F", Regions: map[string]float64{
				"lh_hippocampus": f[i], "rh_hippocampus": f[i], "bi_brain_stem": 7,
			}},
		)
		mr := map[string]float64{"lh_hippocampus": m[i], "bi_brain_stem": 7}
		if i == 0 {
			mr["rh_hippocampus"] = m[i]
		}
		ds.Observations = append(ds.Observations, Observation{SubjectID: fmt.Sprintf("m%d", i), Group: "M", Regions: mr})
	}
	return ds
}

func byRegion(out *Outcome) map[string]RegionResult {
	m := make(map[string]RegionResult)
	for _, r := range out.Regions {
		m[r.Region] = r
	}
	return m
}

func TestEngineTTest(t *testing.T) {
	out, err := Engine{}.Run(groupedDataset(), Params{Kind: TestTTest})
	require.NoError(t, err)

	assert.Equal(t, []string{"F", "M"}, out.Levels)
	names := make([]string, len(out.Regions))
	for i, r := range out.Regions {
		names[i] = r.Region
	}
	assert.Equal(t, []string{"bi_brain_stem", "lh_hippocampus", "rh_hippocampus"}, names)
	assert.Equal(t, 1, out.Tested)

	rows := byRegion(out)
	lh := rows["lh_hippocampus"]
	require.Equal(t, RegionTested, lh.Status)
	assert.Equal(t, volumes.HemiLeft, lh.Hemisphere)
	assert.Equal(t, 10, lh.N)
	assert.InDelta(t, -1.8973665961010275, *lh.Statistic, 1e-12)
	assert.InDelta(t, 0.09434977284243774, *lh.PValue, 1e-9)
	assert.Equal(t, *lh.PValue, *lh.PCorrected, "single tested region is its own correction set")
	assert.False(t, lh.Significant)
	assert.InDelta(t, -3.0, *lh.Effect, 1e-12)
	assert.Equal(t, map[string]float64{"F": 3, "M": 6}, lh.GroupMeans)

	for _, name := range []string{"rh_hippocampus", "bi_brain_stem"} {
		r := rows[name]
		assert.Equal(t, RegionInsufficientData, r.Status, name)
		assert.Nil(t, r.PValue, name)
		assert.Nil(t, r.PCorrected, name)
		assert.False(t, r.Significant, name)
	}
	assert.Equal(t, 1, rows["rh_hippocampus"].GroupSizes["M"])
}

func TestEngineExclusionKeepsCorrectionPower(t *testing.T) {
	ds := groupedDataset()
	out, err := Engine{}.Run(ds, Params{Kind: TestTTest, Correction: stats.CorrectionBonferroni})
	require.NoError(t, err)
	lh := byRegion(out)["lh_hippocampus"]
	// only one region enters the correction, so bonferroni multiplies by 1
	assert.Equal(t, *lh.PValue, *lh.PCorrected)
}

func TestEngineDeterministic(t *testing.T) {
	ds := groupedDataset()
	for i := range ds.Observations {
		ds.Observations[i].Regions["lh_superiorfrontal"] = float64(i%4) + 0.25*float64(i)
	}
	first, err := Engine{}.Run(ds, Params{Kind: TestTTest})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5; i++ {
		shuffled := &Dataset{Measure: ds.Measure, Observations: append([]Observation(nil), ds.Observations...)}
		rng.Shuffle(len(shuffled.Observations), func(a, b int) {
			shuffled.Observations[a], shuffled.Observations[b] = shuffled.Observations[b], shuffled.Observations[a]
		})
		again, err := Engine{}.Run(shuffled, Params{Kind: TestTTest})
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("outcome differs on rerun (-first +again):\n%s", diff)
		}
	}

	var a, b bytes.Buffer
	run := &AnalysisRun{ID: "r1", Name: "det", TestKind: TestTTest, Cohort: []string{"x"}}
	require.NoError(t, NewArtifact(run, first).Write(&a))
	require.NoError(t, NewArtifact(run, first).Write(&b))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestEngineCorrectedNeverBelowRaw(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ds := &Dataset{Measure: volumes.MeasureThickness}
	for i := 0; i < 30; i++ {
		regions := make(map[string]float64)
		for r := 0; r < 25; r++ {
			regions[fmt.Sprintf("lh_region%02d", r)] = rng.NormFloat64() + float64(i%3)*0.1*float64(r%5)
		}
		ds.Observations = append(ds.Observations, Observation{
			SubjectID: fmt.Sprintf("s%02d", i), Group: []string{"a", "b", "c"}[i%3], Regions: regions,
		})
	}
	for _, c := range []stats.Correction{stats.CorrectionFDRBH, stats.CorrectionHolm, stats.CorrectionBonferroni} {
		out, err := Engine{}.Run(ds, Params{Kind: TestANOVA, Correction: c})
		require.NoError(t, err)
		assert.Equal(t, 25, out.Tested)
		for _, r := range out.Regions {
			require.NotNil(t, r.PCorrected)
			assert.GreaterOrEqual(t, *r.PCorrected, *r.PValue, "%s %s", c, r.Region)
			assert.Nil(t, r.Effect, "anova has no single effect size")
		}
	}
}

func TestEngineDegenerateGrouping(t *testing.T) {
	ds := groupedDataset()
	for i := range ds.Observations {
		ds.Observations[i].Group = "F"
	}
	_, err := Engine{}.Run(ds, Params{Kind: TestTTest})
	assert.True(t, errors.Is(err, ErrDegenerateGrouping))

	_, err = Engine{}.Run(ds, Params{Kind: TestANOVA})
	assert.True(t, errors.Is(err, ErrDegenerateGrouping))
}

func TestEngineThreeLevels(t *testing.T) {
	ds := groupedDataset()
	ds.Observations = append(ds.Observations,
		Observation{SubjectID: "x1", Group: "X", Regions: map[string]float64{"lh_hippocampus": 4}},
		Observation{SubjectID: "x2", Group: "X", Regions: map[string]float64{"lh_hippocampus": 5}},
	)
	_, err := Engine{}.Run(ds, Params{Kind: TestTTest})
	assert.True(t, errors.Is(err, ErrInvalidVariable))

	out, err := Engine{}.Run(ds, Params{Kind: TestANOVA})
	require.NoError(t, err)
	assert.Equal(t, []string{"F", "M", "X"}, out.Levels)
	assert.Equal(t, RegionTested, byRegion(out)["lh_hippocampus"].Status)
	assert.Equal(t, RegionInsufficientData, byRegion(out)["rh_hippocampus"].Status)
}

func TestEngineRegression(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{2.1, 3.9, 6.2, 7.8, 10.1, 11.7}
	ds := &Dataset{Measure: volumes.MeasureVolume}
	for i := range x {
		ds.Observations = append(ds.Observations, Observation{
			SubjectID: fmt.Sprintf("s%d", i), Covariate: x[i], HasCovariate: true,
			Regions: map[string]float64{"lh_hippocampus": y[i]},
		})
	}
	ds.Observations = append(ds.Observations, Observation{SubjectID: "nocov", Regions: map[string]float64{"lh_hippocampus": 99}})

	out, err := Engine{}.Run(ds, Params{Kind: TestRegression, Alpha: 0.01})
	require.NoError(t, err)
	r := out.Regions[0]
	assert.Equal(t, 6, r.N, "subjects without the covariate are dropped")
	assert.InDelta(t, 1.9485714285714286, *r.Effect, 1e-12)
	assert.True(t, r.Significant)
	assert.Empty(t, out.Levels)

	short := &Dataset{Observations: ds.Observations[:2]}
	out, err = Engine{}.Run(short, Params{Kind: TestPearson})
	require.NoError(t, err)
	assert.Equal(t, RegionInsufficientData, out.Regions[0].Status)
}

func TestEngineEmptyCohort(t *testing.T) {
	_, err := Engine{}.Run(&Dataset{}, Params{Kind: TestTTest})
	assert.True(t, errors.Is(err, ErrEmptyCohort))

	_, err = Engine{}.Run(groupedDataset(), Params{Kind: "wilcoxon"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}
