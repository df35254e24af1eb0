package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjust(t *testing.T) {
	p := []float64{0.01, 0.04, 0.03, 0.005}
	cases := []struct {
		method Correction
		want   []float64
	}{
		{CorrectionNone, []float64{0.01, 0.04, 0.03, 0.005}},
		{CorrectionBonferroni, []float64{0.04, 0.16, 0.12, 0.02}},
		{CorrectionHolm, []float64{0.03, 0.06, 0.06, 0.02}},
		{CorrectionFDRBH, []float64{0.02, 0.04, 0.04, 0.02}},
	}
	for _, c := range cases {
		t.Run(string(c.method), func(t *testing.T) {
			got, err := Adjust(c.method, p)
			require.NoError(t, err)
			require.Len(t, got, len(p))
			for i := range got {
				assert.InDelta(t, c.want[i], got[i], 1e-12, "index %d", i)
			}
		})
	}
}

func TestAdjustBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := make([]float64, 200)
	for i := range p {
		p[i] = rng.Float64()
	}
	p[3] = p[10] // ties
	for _, m := range []Correction{CorrectionFDRBH, CorrectionBonferroni, CorrectionHolm, CorrectionNone} {
		adj, err := Adjust(m, p)
		require.NoError(t, err)
		for i := range p {
			assert.GreaterOrEqual(t, adj[i], p[i], "%s index %d", m, i)
			assert.LessOrEqual(t, adj[i], 1.0, "%s index %d", m, i)
		}
	}
}

func TestAdjustBHMonotone(t *testing.T) {
	p := []float64{0.001, 0.008, 0.039, 0.041, 0.042, 0.06, 0.074, 0.205, 0.212, 0.216}
	adj, err := Adjust(CorrectionFDRBH, p)
	require.NoError(t, err)
	for i := 1; i < len(adj); i++ {
		assert.GreaterOrEqual(t, adj[i], adj[i-1], "sorted input keeps sorted output")
	}
	assert.InDelta(t, 0.01, adj[0], 1e-12)
	assert.InDelta(t, 0.04, adj[1], 1e-12)
}

func TestParseCorrection(t *testing.T) {
	c, err := ParseCorrection("")
	require.NoError(t, err)
	assert.Equal(t, CorrectionFDRBH, c)

	c, err = ParseCorrection("holm")
	require.NoError(t, err)
	assert.Equal(t, CorrectionHolm, c)

	_, err = ParseCorrection("sidak")
	assert.Error(t, err)

	_, err = Adjust(Correction("sidak"), []float64{0.1})
	assert.Error(t, err)
}

func TestAdjustEmpty(t *testing.T) {
	got, err := Adjust(CorrectionFDRBH, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
