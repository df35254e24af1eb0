package stats

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference values computed independently with the regularized incomplete beta function.

func TestTTest(t *testing.T) {
	res, err := TTest([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 6, 8, 10})
	require.NoError(t, err)
	assert.InDelta(t, -1.8973665961010275, res.Statistic, 1e-12)
	assert.InDelta(t, 0.09434977284243774, res.PValue, 1e-9)
	assert.Equal(t, 8.0, res.DF1)
	assert.InDelta(t, -3.0, res.Effect, 1e-12)

	res, err = TTest([]float64{10.1, 9.8, 10.4, 10.0}, []float64{11.2, 11.0, 10.7, 11.5, 11.1})
	require.NoError(t, err)
	assert.InDelta(t, -5.566156289569649, res.Statistic, 1e-9)
	assert.InDelta(t, 0.0008454261499442164, res.PValue, 1e-10)
}

func TestTTestUndefined(t *testing.T) {
	_, err := TTest([]float64{1}, []float64{2, 3})
	assert.True(t, errors.Is(err, ErrUndefined))

	_, err = TTest([]float64{2, 2, 2}, []float64{2, 2})
	assert.True(t, errors.Is(err, ErrUndefined), "zero variance")
}

func TestANOVA(t *testing.T) {
	res, err := ANOVA([][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}})
	require.NoError(t, err)
	assert.InDelta(t, 27.0, res.Statistic, 1e-12)
	assert.InDelta(t, 0.001, res.PValue, 1e-10)
	assert.Equal(t, 2.0, res.DF1)
	assert.Equal(t, 6.0, res.DF2)

	res, err = ANOVA([][]float64{{4.1, 3.9, 4.5, 4.2}, {5.0, 4.8, 5.3}, {4.4, 4.6, 4.3, 4.7, 4.5}})
	require.NoError(t, err)
	assert.InDelta(t, 13.780684104627793, res.Statistic, 1e-9)
	assert.InDelta(t, 0.0018217564425226677, res.PValue, 1e-9)
}

func TestANOVAUndefined(t *testing.T) {
	_, err := ANOVA([][]float64{{1, 2, 3}})
	assert.True(t, errors.Is(err, ErrUndefined))
	_, err = ANOVA([][]float64{{1, 1}, {2, 2}})
	assert.True(t, errors.Is(err, ErrUndefined))
}

func TestRegression(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{2.1, 3.9, 6.2, 7.8, 10.1, 11.7}
	res, err := Regression(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 1.9485714285714286, res.Effect, 1e-12)
	assert.InDelta(t, 42.51442912633112, res.Statistic, 1e-8)
	assert.InDelta(t, 1.8298087274310767e-06, res.PValue, 1e-11)
	assert.Equal(t, 4.0, res.DF1)

	_, err = Regression([]float64{3, 3, 3}, []float64{1, 2, 3})
	assert.True(t, errors.Is(err, ErrUndefined), "constant covariate")
	_, err = Regression([]float64{1, 2}, []float64{1, 2})
	assert.True(t, errors.Is(err, ErrUndefined), "too few points")
	_, err = Regression([]float64{1, 2, 3, 4}, []float64{5, 5, 5, 5})
	assert.True(t, errors.Is(err, ErrUndefined), "constant outcome")
}

func TestRegressionExactFit(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 2*v + 1
	}
	res, err := Regression(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Effect, 1e-12)
	assert.Less(t, res.PValue, 1e-10)
	assert.Greater(t, res.Statistic, 1e10)
	assert.Equal(t, 4.0, res.DF1)

	down, err := Regression(x, []float64{6, 5, 4, 3, 2, 1})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, down.Effect, 1e-12)
	assert.Less(t, down.Statistic, -1e10)

	_, err = json.Marshal(res)
	assert.NoError(t, err, "result stays encodable")
}

func TestPearson(t *testing.T) {
	res, err := Pearson([]float64{1, 2, 3, 4, 5, 6}, []float64{1.2, 1.9, 3.5, 3.1, 5.2, 4.8})
	require.NoError(t, err)
	assert.InDelta(t, 0.9368801752166578, res.Statistic, 1e-12)
	assert.InDelta(t, 0.005850430186482901, res.PValue, 1e-9)

	perfect, err := Pearson([]float64{1, 2, 3}, []float64{2, 4, 6})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, perfect.Statistic, 1e-12)
	assert.InDelta(t, 0.0, perfect.PValue, 1e-6)
}

func TestSpearman(t *testing.T) {
	res, err := Spearman([]float64{1, 2, 2, 3, 4, 5}, []float64{2, 1, 4, 3, 6, 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.753702346348183, res.Statistic, 1e-12)
	assert.InDelta(t, 0.08352328137325982, res.PValue, 1e-9)
}

func TestRanks(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4, 5, 6}, Ranks([]float64{1, 2, 2, 3, 4, 5}))
	assert.Equal(t, []float64{3, 1, 2}, Ranks([]float64{9, -1, 0}))
	assert.Empty(t, Ranks(nil))
}
