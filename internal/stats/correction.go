package stats

import (
	"fmt"
	"math"
	"sort"
)

// Correction enum
type Correction string

const (
	CorrectionFDRBH      Correction = "fdr_bh"
	CorrectionBonferroni Correction = "bonferroni"
	CorrectionHolm       Correction = "holm"
	CorrectionNone       Correction = "none"
)

// ParseCorrection maps a name to a method; empty selects fdr_bh.
func ParseCorrection(s string) (Correction, error) {
	switch c := Correction(s); c {
	case "":
		return CorrectionFDRBH, nil
	case CorrectionFDRBH, CorrectionBonferroni, CorrectionHolm, CorrectionNone:
		return c, nil
	}
	return "", fmt.Errorf("unknown correction method: %q", s)
}

// Adjust applies the correction to raw p-values. The output is index-aligned
// with p, never below the raw value and never above 1.
func Adjust(method Correction, p []float64) ([]float64, error) {
	m := len(p)
	out := make([]float64, m)
	if m == 0 {
		return out, nil
	}
	switch method {
	case CorrectionNone:
		copy(out, p)
	case CorrectionBonferroni:
		for i, v := range p {
			out[i] = math.Min(1, v*float64(m))
		}
	case CorrectionHolm:
		order := ascending(p)
		running := 0.0
		for rank, i := range order {
			adj := math.Min(1, float64(m-rank)*p[i])
			running = math.Max(running, adj)
			out[i] = running
		}
	case CorrectionFDRBH, "":
		order := ascending(p)
		running := 1.0
		for rank := m - 1; rank >= 0; rank-- {
			i := order[rank]
			adj := p[i] * float64(m) / float64(rank+1)
			running = math.Min(running, adj)
			out[i] = running
		}
	default:
		return nil, fmt.Errorf("unknown correction method: %q", method)
	}
	return out, nil
}

// ascending returns indexes of p sorted by value, ties by index.
func ascending(p []float64) []int {
	order := make([]int, len(p))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })
	return order
}
