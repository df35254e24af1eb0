package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrUndefined is returned when a statistic cannot be computed from the
// sample, e.g. too few observations or zero variance.
var ErrUndefined = errors.New("statistic undefined for sample")

// Result is the outcome of one test.
type Result struct {
	Statistic float64
	PValue    float64
	DF1       float64
	DF2       float64 // zero for single-df tests
	Effect    float64 // mean difference, slope, or correlation coefficient
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// twoSidedT is the two-sided p-value of t with df degrees of freedom.
func twoSidedT(t, df float64) float64 {
	p := 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
	return math.Min(p, 1)
}

// TTest is Student's two-sample t-test with pooled variance. Effect is mean(a) - mean(b).
func TTest(a, b []float64) (Result, error) {
	n1, n2 := float64(len(a)), float64(len(b))
	if len(a) < 2 || len(b) < 2 {
		return Result{}, ErrUndefined
	}
	m1, v1 := stat.MeanVariance(a, nil)
	m2, v2 := stat.MeanVariance(b, nil)
	df := n1 + n2 - 2
	pooled := ((n1-1)*v1 + (n2-1)*v2) / df
	se := math.Sqrt(pooled * (1/n1 + 1/n2))
	if se == 0 {
		return Result{}, ErrUndefined
	}
	t := (m1 - m2) / se
	if !finite(t) {
		return Result{}, ErrUndefined
	}
	return Result{Statistic: t, PValue: twoSidedT(t, df), DF1: df, Effect: m1 - m2}, nil
}

// ANOVA is a one-way analysis of variance over two or more groups.
func ANOVA(groups [][]float64) (Result, error) {
	k := len(groups)
	if k < 2 {
		return Result{}, ErrUndefined
	}
	var n int
	var sum float64
	for _, g := range groups {
		if len(g) == 0 {
			return Result{}, ErrUndefined
		}
		n += len(g)
		for _, v := range g {
			sum += v
		}
	}
	if n <= k {
		return Result{}, ErrUndefined
	}
	grand := sum / float64(n)

	var ssb, ssw float64
	for _, g := range groups {
		m := stat.Mean(g, nil)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
		for _, v := range g {
			ssw += (v - m) * (v - m)
		}
	}
	dfb, dfw := float64(k-1), float64(n-k)
	if ssw == 0 {
		return Result{}, ErrUndefined
	}
	f := (ssb / dfb) / (ssw / dfw)
	if !finite(f) {
		return Result{}, ErrUndefined
	}
	p := distuv.F{D1: dfb, D2: dfw}.Survival(f)
	return Result{Statistic: f, PValue: p, DF1: dfb, DF2: dfw}, nil
}

// exactFitTolerance is the residual share of total variance below which a
// regression counts as an exact fit.
const exactFitTolerance = 1e-20

// Regression fits y = alpha + beta*x by least squares and tests beta = 0
// with n-2 degrees of freedom. Effect is the slope. An exact fit is
// significant with p = 0; a constant y has no defined test.
func Regression(x, y []float64) (Result, error) {
	n := len(x)
	if n != len(y) || n < 3 {
		return Result{}, ErrUndefined
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	mx, my := stat.Mean(x, nil), stat.Mean(y, nil)
	var sxx, syy, sse float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxx += dx * dx
		syy += dy * dy
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
	}
	if sxx == 0 || syy == 0 {
		return Result{}, ErrUndefined
	}
	df := float64(n - 2)
	if sse <= syy*exactFitTolerance {
		// points on a line: the slope is known without error
		return Result{Statistic: math.Copysign(math.MaxFloat64, beta), PValue: 0, DF1: df, Effect: beta}, nil
	}
	se := math.Sqrt(sse / df / sxx)
	t := beta / se
	if !finite(t, beta) {
		return Result{}, ErrUndefined
	}
	return Result{Statistic: t, PValue: twoSidedT(t, df), DF1: df, Effect: beta}, nil
}

// Pearson tests the product-moment correlation using the t approximation.
// Statistic and Effect are both r.
func Pearson(x, y []float64) (Result, error) {
	n := len(x)
	if n != len(y) || n < 3 {
		return Result{}, ErrUndefined
	}
	r := stat.Correlation(x, y, nil)
	if !finite(r) {
		return Result{}, ErrUndefined
	}
	return correlationResult(r, n), nil
}

// Spearman tests the rank correlation (average ranks for ties) using the t approximation.
func Spearman(x, y []float64) (Result, error) {
	n := len(x)
	if n != len(y) || n < 3 {
		return Result{}, ErrUndefined
	}
	r := stat.Correlation(Ranks(x), Ranks(y), nil)
	if !finite(r) {
		return Result{}, ErrUndefined
	}
	return correlationResult(r, n), nil
}

func correlationResult(r float64, n int) Result {
	df := float64(n - 2)
	p := 0.0
	if math.Abs(r) < 1 {
		t := r * math.Sqrt(df/(1-r*r))
		p = twoSidedT(t, df)
	}
	return Result{Statistic: r, PValue: p, DF1: df, Effect: r}
}
