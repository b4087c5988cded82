package surrogate

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/expr"
	"github.com/copyleftdev/optbench/internal/surrogate/kernels"
)

func evalText(t *testing.T, body string, names []string, x []float64) float64 {
	t.Helper()
	n, err := expr.ParseBound(body, expr.Scope{Variables: names})
	require.NoError(t, err, body)
	v, err := expr.Eval(n, x)
	require.NoError(t, err)
	return v
}

func TestLinearFitExact(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}}
	y := []float64{1, 3, 5}

	fit, err := New(x, y, Options{Kind: Linear})
	require.NoError(t, err)
	require.Len(t, fit.Coefficients, 2)
	assert.InDelta(t, 1, fit.Coefficients[0], 1e-12)
	assert.InDelta(t, 2, fit.Coefficients[1], 1e-12)
	assert.InDelta(t, 1, fit.Stats.R2, 1e-12)
	assert.InDelta(t, 0, fit.Stats.RMSE, 1e-12)
	assert.InDelta(t, 0, fit.Stats.PRESS, 1e-12)

	v, err := fit.Eval([]float64{10})
	require.NoError(t, err)
	assert.InDelta(t, 21, v, 1e-9)

	assert.Equal(t, []string{"x1"}, fit.Names)
	assert.InDelta(t, 21, evalText(t, fit.Expression(), nil, []float64{10}), 1e-9)
	assert.True(t, strings.HasPrefix(fit.Function("F9"), "F9 = "))
}

func TestTermCounts(t *testing.T) {
	for k := 1; k <= 6; k++ {
		assert.Len(t, PolynomialTerms(Linear, k), 1+k)
		assert.Len(t, PolynomialTerms(Quadratic, k), 1+2*k)
		assert.Len(t, PolynomialTerms(Interaction, k), 1+2*k+k*(k-1)/2)
	}
	terms := PolynomialTerms(Interaction, 2)
	names := []string{"A", "B"}
	var text []string
	for _, tm := range terms {
		text = append(text, tm.Text(names))
	}
	assert.Equal(t, []string{"", "A", "B", "A**2", "B**2", "A*B"}, text)
}

func TestInteractionRecoversSurface(t *testing.T) {
	f := func(a, b float64) float64 { return 2 - a + 3*b + 0.5*a*a - b*b + 4*a*b }
	var x [][]float64
	var y []float64
	for _, a := range []float64{-1, -0.5, 0, 0.5, 1} {
		for _, b := range []float64{-2, 0, 1, 3} {
			x = append(x, []float64{a, b})
			y = append(y, f(a, b))
		}
	}
	fit, err := New(x, y, Options{Kind: Interaction, Names: []string{"P", "Q"}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, -1, 3, 0.5, -1, 4}, fit.Coefficients, 1e-9)
	assert.InDelta(t, 1, fit.Stats.R2, 1e-12)
	assert.InDelta(t, 1, fit.Stats.AdjustedR2, 1e-12)
	assert.InDelta(t, 0, fit.Stats.PValue, 1e-9)

	text := fit.Expression()
	assert.Contains(t, text, "P*Q")
	assert.InDelta(t, f(0.3, -0.7), evalText(t, text, []string{"P", "Q"}, []float64{0.3, -0.7}), 1e-9)
}

func TestNoisyStatistics(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}}
	y := []float64{0.1, 0.9, 2.2, 2.8, 4.1, 5.0}
	fit, err := New(x, y, Options{Kind: Linear})
	require.NoError(t, err)

	s := fit.Stats
	assert.Greater(t, s.R2, 0.98)
	assert.Less(t, s.R2, 1.0)
	assert.Less(t, s.AdjustedR2, s.R2)
	assert.Greater(t, s.F, 100.0)
	assert.Less(t, s.PValue, 1e-3)
	assert.Greater(t, s.PRESS, 0.0)
	assert.Less(t, s.R2Press, s.R2)
	assert.Greater(t, s.RMSE, 0.0)
}

func TestConstantResponseIsNotFinite(t *testing.T) {
	fit, err := New([][]float64{{0}, {1}, {2}}, []float64{4, 4, 4}, Options{Kind: Linear})
	require.NoError(t, err)
	// SST is zero; SSE is zero or a rounding residue
	assert.True(t, math.IsInf(fit.Stats.R2, -1) || math.IsNaN(fit.Stats.R2), "R2 = %v", fit.Stats.R2)
	assert.InDelta(t, 4, fit.Coefficients[0], 1e-12)

	data, err := json.Marshal(fit.Stats)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Contains(t, []interface{}{"-Inf", "NaN"}, out["r2"])
	assert.InDelta(t, 0, out["rmse"], 1e-9)
}

func TestInterpolantHasNoPRESS(t *testing.T) {
	fit, err := New(rbfPoints, rbfValues, Options{Kind: RBF, Kernel: "GAUSSIAN", Epsilon: 1})
	require.NoError(t, err)
	assert.InDelta(t, 1, fit.Stats.R2, 1e-9)
	assert.True(t, math.IsNaN(fit.Stats.PRESS), "PRESS = %v", fit.Stats.PRESS)
	assert.True(t, math.IsNaN(fit.Stats.R2Press), "R2Press = %v", fit.Stats.R2Press)

	data, err := json.Marshal(fit.Stats)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "NaN", out["press"])
}

func TestStatisticsZeroOverZero(t *testing.T) {
	y := []float64{2, 2, 2}
	s := computeStatistics(y, y, []float64{0.5, 0.5, 0.5}, 2)
	// SSE and SST are both zero
	assert.True(t, math.IsNaN(s.R2))
	assert.InDelta(t, 0, s.PRESS, 1e-15)
	assert.InDelta(t, 0, s.RMSE, 1e-15)

	s = computeStatistics(y, y, []float64{1, 1, 1}, 3)
	assert.True(t, math.IsNaN(s.PRESS))
}

func TestSingular(t *testing.T) {
	_, err := New([][]float64{{1, 2}, {1, 2}, {1, 2}, {1, 2}}, []float64{1, 2, 3, 4}, Options{Kind: Linear})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Singular))
	assert.False(t, apperr.IsKind(err, apperr.NumericFailure))

	_, err = New([][]float64{{0}, {1}}, []float64{1, 2}, Options{Kind: Quadratic})
	assert.True(t, apperr.IsKind(err, apperr.Singular))

	_, err = New([][]float64{{0}, {0}}, []float64{1, 2}, Options{Kind: RBF, Kernel: "GAUSSIAN"})
	assert.True(t, apperr.IsKind(err, apperr.Singular))
}

func TestInputValidation(t *testing.T) {
	_, err := New([][]float64{{0}, {1}}, []float64{1}, Options{Kind: Linear})
	assert.True(t, apperr.IsKind(err, apperr.DimensionMismatch))
	_, err = New([][]float64{{0}, {1, 2}}, []float64{1, 2}, Options{Kind: Linear})
	assert.True(t, apperr.IsKind(err, apperr.DimensionMismatch))
	_, err = New([][]float64{{0}}, []float64{1}, Options{Kind: "spline"})
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))
	_, err = New([][]float64{{0}}, []float64{1}, Options{Kind: RBF, Kernel: "MATERN"})
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))
	_, err = New([][]float64{{0}}, []float64{1}, Options{Kind: Linear, Names: []string{"a", "b"}})
	assert.True(t, apperr.IsKind(err, apperr.DimensionMismatch))

	k, err := ParseModelKind("RBF")
	require.NoError(t, err)
	assert.Equal(t, RBF, k)
}

var rbfPoints = [][]float64{{0, 0}, {1, 0.2}, {0.3, 1.1}, {-0.7, 0.4}, {0.5, -0.9}}
var rbfValues = []float64{1.5, -0.3, 2.2, 0.7, -1.1}

func TestGaussianInterpolates(t *testing.T) {
	fit, err := New(rbfPoints, rbfValues, Options{Kind: RBF, Kernel: "GAUSSIAN", Epsilon: 1})
	require.NoError(t, err)
	for i, p := range rbfPoints {
		v, err := fit.Eval(p)
		require.NoError(t, err)
		assert.InDelta(t, rbfValues[i], v, 1e-9)
	}
	assert.InDelta(t, 1, fit.Stats.R2, 1e-9)
}

func TestRBFKernelsInterpolate(t *testing.T) {
	for _, name := range kernels.Names() {
		t.Run(name, func(t *testing.T) {
			eps := 1.0
			if strings.HasPrefix(name, "CS") {
				eps = 0.3 // support radius covers every pair
			}
			fit, err := New(rbfPoints, rbfValues, Options{Kind: RBF, Kernel: name, Epsilon: eps, Names: []string{"U", "V"}})
			require.NoError(t, err)
			text := fit.Expression()
			for i, p := range rbfPoints {
				v, err := fit.Eval(p)
				require.NoError(t, err)
				assert.InDelta(t, rbfValues[i], v, 1e-8)
				assert.InDelta(t, v, evalText(t, text, []string{"U", "V"}, p), 1e-8)
			}
			between := []float64{0.2, 0.1}
			v, err := fit.Eval(between)
			require.NoError(t, err)
			assert.InDelta(t, v, evalText(t, text, []string{"U", "V"}, between), 1e-8)
		})
	}
}

func TestSmoothingRelaxesInterpolation(t *testing.T) {
	exact, err := New(rbfPoints, rbfValues, Options{Kind: RBF, Kernel: "MULTIQUADRIC"})
	require.NoError(t, err)
	smooth, err := New(rbfPoints, rbfValues, Options{Kind: RBF, Kernel: "MULTIQUADRIC", Smooth: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0, exact.Stats.RMSE, 1e-9)
	assert.Greater(t, smooth.Stats.RMSE, 1e-3)
	assert.Equal(t, 0.5, smooth.Smooth)

	_, err = New(rbfPoints, rbfValues, Options{Kind: RBF, Kernel: "GAUSSIAN", Smooth: -1})
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))
}

func TestExpressionPrecision(t *testing.T) {
	fit, err := New([][]float64{{0}, {1}, {2}}, []float64{1.0 / 3, 1, 5.0 / 3}, Options{Kind: Linear})
	require.NoError(t, err)
	text := fit.Expression()
	assert.Contains(t, text, "3.333333333333")
	v := evalText(t, text, nil, []float64{0})
	assert.InDelta(t, 1.0/3, v, 1e-15)
}
