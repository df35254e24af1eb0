package analyses

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/stats"
)

// DefaultAlpha is the significance threshold on corrected p-values.
const DefaultAlpha = 0.05

// Observation is one cohort subject with its resolved variable and region values.
type Observation struct {
	SubjectID string
	// Group is the categorical level for grouped tests; empty when missing.
	Group string
	// Covariate is valid only when HasCovariate is set.
	Covariate    float64
	HasCovariate bool
	Regions      map[string]float64
}

// Dataset is the typed input of one run.
type Dataset struct {
	Measure      volumes.Measure
	Observations []Observation
	Hemispheres  map[string]volumes.Hemisphere
}

// Params selects the test and how p-values are corrected.
type Params struct {
	Kind       TestKind
	Correction stats.Correction
	Alpha      float64
}

// Outcome is the per-region result of a run, regions sorted by name.
type Outcome struct {
	Levels  []string
	Regions []RegionResult
	Tested  int
}

// Engine runs one test per region and corrects across regions.
type Engine struct {
	// MinPerGroup is the minimum observations in every level for grouped tests.
	MinPerGroup int
	// MinTotal is the minimum paired observations for covariate tests.
	MinTotal int
}

func (e Engine) minPerGroup() int {
	if e.MinPerGroup > 0 {
		return e.MinPerGroup
	}
	return 2
}

func (e Engine) minTotal() int {
	if e.MinTotal > 0 {
		return e.MinTotal
	}
	return 3
}

// Run analyses ds. Whole-run preconditions fail with ErrEmptyCohort,
// ErrDegenerateGrouping or ErrInvalidVariable; per-region shortfalls are
// reported as insufficient_data rows instead.
func (e Engine) Run(ds *Dataset, p Params) (*Outcome, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown test kind %q", ErrInvalidRequest, p.Kind)
	}
	if ds == nil || len(ds.Observations) == 0 {
		return nil, ErrEmptyCohort
	}
	alpha := p.Alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	correction := p.Correction
	if correction == "" {
		correction = stats.CorrectionFDRBH
	}

	obs := make([]Observation, len(ds.Observations))
	copy(obs, ds.Observations)
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].SubjectID < obs[j].SubjectID })

	var levels []string
	if p.Kind.Grouped() {
		levels = observedLevels(obs)
		if len(levels) < 2 {
			return nil, fmt.Errorf("%w: %d level(s) observed", ErrDegenerateGrouping, len(levels))
		}
		if p.Kind == TestTTest && len(levels) > 2 {
			return nil, fmt.Errorf("%w: t-test needs exactly two levels, got %d (%v)", ErrInvalidVariable, len(levels), levels)
		}
	}

	out := &Outcome{Levels: levels}
	var tested []int
	var raw []float64
	for _, region := range regionNames(obs) {
		row := RegionResult{Region: region, Hemisphere: hemisphereOf(ds, region), Status: RegionInsufficientData}
		res, err := e.testRegion(obs, region, p.Kind, levels, &row)
		switch {
		case err == nil:
			row.Status = RegionTested
			row.Statistic = ptr(res.Statistic)
			row.PValue = ptr(res.PValue)
			if p.Kind != TestANOVA {
				row.Effect = ptr(res.Effect)
			}
			tested = append(tested, len(out.Regions))
			raw = append(raw, res.PValue)
		case errors.Is(err, stats.ErrUndefined):
			// stays insufficient_data
		default:
			return nil, err
		}
		out.Regions = append(out.Regions, row)
	}

	adjusted, err := stats.Adjust(correction, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for i, idx := range tested {
		out.Regions[idx].PCorrected = ptr(adjusted[i])
		out.Regions[idx].Significant = adjusted[i] < alpha
	}
	out.Tested = len(tested)
	return out, nil
}

// testRegion fills row.N and group summaries, returning stats.ErrUndefined
// when the region lacks the minimum observations.
func (e Engine) testRegion(obs []Observation, region string, kind TestKind, levels []string, row *RegionResult) (stats.Result, error) {
	if kind.Grouped() {
		groups := make(map[string][]float64, len(levels))
		for _, o := range obs {
			v, ok := o.Regions[region]
			if !ok || o.Group == "" {
				continue
			}
			groups[o.Group] = append(groups[o.Group], v)
		}
		row.GroupSizes = make(map[string]int, len(levels))
		row.GroupMeans = make(map[string]float64, len(levels))
		samples := make([][]float64, 0, len(levels))
		short := false
		for _, l := range levels {
			g := groups[l]
			row.N += len(g)
			row.GroupSizes[l] = len(g)
			if len(g) > 0 {
				row.GroupMeans[l] = mean(g)
			}
			if len(g) < e.minPerGroup() {
				short = true
			}
			samples = append(samples, g)
		}
		if short {
			return stats.Result{}, stats.ErrUndefined
		}
		if kind == TestTTest {
			return stats.TTest(samples[0], samples[1])
		}
		return stats.ANOVA(samples)
	}

	var x, y []float64
	for _, o := range obs {
		v, ok := o.Regions[region]
		if !ok || !o.HasCovariate {
			continue
		}
		x = append(x, o.Covariate)
		y = append(y, v)
	}
	row.N = len(x)
	if len(x) < e.minTotal() {
		return stats.Result{}, stats.ErrUndefined
	}
	switch kind {
	case TestRegression:
		return stats.Regression(x, y)
	case TestPearson:
		return stats.Pearson(x, y)
	case TestSpearman:
		return stats.Spearman(x, y)
	}
	return stats.Result{}, fmt.Errorf("%w: unknown test kind %q", ErrInvalidRequest, kind)
}

func observedLevels(obs []Observation) []string {
	seen := make(map[string]bool)
	for _, o := range obs {
		if o.Group != "" {
			seen[o.Group] = true
		}
	}
	levels := make([]string, 0, len(seen))
	for l := range seen {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	return levels
}

func regionNames(obs []Observation) []string {
	seen := make(map[string]bool)
	for _, o := range obs {
		for r := range o.Regions {
			seen[r] = true
		}
	}
	names := make([]string, 0, len(seen))
	for r := range seen {
		names = append(names, r)
	}
	sort.Strings(names)
	return names
}

func hemisphereOf(ds *Dataset, region string) volumes.Hemisphere {
	if h, ok := ds.Hemispheres[region]; ok {
		return h
	}
	_, h := volumes.NormalizeRegion("", region)
	return h
}

// mean sums in input order so repeated runs are bit-identical.
func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func ptr(v float64) *float64 { return &v }
