package kernels

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/optbench/internal/expr"
)

func TestKernelValues(t *testing.T) {
	tests := []struct {
		name     string
		epsilon  float64
		r        float64
		expected float64
	}{
		{"LINEAR", 1, 2, 2},
		{"CUBIC", 1, 2, 8},
		{"THIN_PLATE_SPLINE", 1, 0, 0},
		{"THIN_PLATE_SPLINE", 1, math.E, math.E * math.E},
		{"GAUSSIAN", 1, 0, 1},
		{"GAUSSIAN", 2, 0.5, math.Exp(-1)},
		{"MULTIQUADRIC", 1, 1, math.Sqrt2},
		{"INVERSE_MULTIQUADRIC", 1, 1, 1 / math.Sqrt2},
		{"CS20", 1, 0.5, 0.25},
		{"CS21", 1, 0.5, 0.125 * 2.5},
		{"CS22", 1, 0.5, 0.0625 * (5*0.25 + 2 + 1)},
		{"CS30", 1, 0.5, 0.125},
		{"CS31", 1, 0.5, 0.0625 * 3},
		{"CS32", 1, 0.5, 0.03125 * (2 + 2.5 + 1)},
		{"CS33", 1, 0.5, 0.015625 * (8 + 69*0.25 + 15 + 5) / 5},
		{"CS33", 1, 0, 1},
		{"CS21", 2, 0.75, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := New(tt.name, tt.epsilon)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, k.Eval(tt.r), 1e-12)
		})
	}
}

func TestKernelExprMatchesEval(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			k, err := New(name, 0.7)
			require.NoError(t, err)
			body := k.Expr("x1**2 + x2**2")
			n, err := expr.ParseBound(body, expr.Scope{})
			require.NoError(t, err, body)

			for _, p := range [][]float64{{0.3, 0.4}, {1, 0.5}, {0.01, 0}, {2, 1}} {
				r := math.Hypot(p[0], p[1])
				got, err := expr.Eval(n, p)
				require.NoError(t, err)
				assert.InDelta(t, k.Eval(r), got, 1e-9, "r=%v", r)
			}
		})
	}
}

func TestKernelAugmentation(t *testing.T) {
	for _, name := range Names() {
		k, err := New(name, 1)
		require.NoError(t, err)
		want := name == "LINEAR" || name == "CUBIC" || name == "THIN_PLATE_SPLINE"
		assert.Equal(t, want, k.Augmented(), name)
	}
	assert.Len(t, Names(), 13)
}

func TestHyperparameters(t *testing.T) {
	k, err := New("gaussian", 1.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, k.Hyperparameters())

	require.NoError(t, k.SetHyperparameters([]float64{3}))
	assert.Equal(t, []float64{3}, k.Hyperparameters())
	assert.Error(t, k.SetHyperparameters([]float64{0}))
	assert.Error(t, k.SetHyperparameters([]float64{1, 2}))

	_, err = New("GAUSSIAN", -1)
	assert.Error(t, err)
	_, err = New("MATERN", 1)
	assert.Error(t, err)
}

func TestLit(t *testing.T) {
	assert.Equal(t, "1.500000000000000e+00", Lit(1.5))
	assert.True(t, strings.HasPrefix(Lit(-2), "(-2.0"))
}
