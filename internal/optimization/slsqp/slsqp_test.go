package slsqp

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

func rosenbrock() Problem {
	return Problem{
		Func: func(x []float64) (float64, error) {
			a, b := 1-x[0], x[1]-x[0]*x[0]
			return a*a + 100*b*b, nil
		},
		Grad: func(x, g []float64) error {
			b := x[1] - x[0]*x[0]
			g[0] = -2*(1-x[0]) - 400*x[0]*b
			g[1] = 200 * b
			return nil
		},
		Lower: []float64{-2, -2},
		Upper: []float64{2, 2},
	}
}

func TestUnconstrainedRosenbrock(t *testing.T) {
	res, err := Minimize(context.Background(), rosenbrock(), []float64{-1.2, 1}, Settings{MaxIter: 500, Tol: 1e-10, FTol: 1e-14})
	require.NoError(t, err)
	assert.True(t, res.Success(), res.Status.String())
	assert.InDelta(t, 1, res.X[0], 1e-3)
	assert.InDelta(t, 1, res.X[1], 1e-3)
	assert.InDelta(t, 0, res.F, 1e-6)
}

func TestEqualityWithFiniteDifferences(t *testing.T) {
	p := Problem{
		Func: func(x []float64) (float64, error) { return x[0]*x[0] + x[1]*x[1], nil },
		Equality: []Constraint{{
			Func: func(x []float64) (float64, error) { return x[0] + x[1] - 1, nil },
		}},
	}
	res, err := Minimize(context.Background(), p, []float64{3, -4}, Settings{})
	require.NoError(t, err)
	require.True(t, res.Success(), res.Status.String())
	assert.InDelta(t, 0.5, res.X[0], 1e-5)
	assert.InDelta(t, 0.5, res.X[1], 1e-5)
	assert.InDelta(t, 0, res.Equality[0], 1e-6)
	assert.InDelta(t, 1, res.Grad[0], 1e-4)
}

func TestInequalityConstraints(t *testing.T) {
	p := Problem{
		Func: func(x []float64) (float64, error) {
			return (x[0]-2)*(x[0]-2) + (x[1]-1)*(x[1]-1), nil
		},
		Grad: func(x, g []float64) error {
			g[0], g[1] = 2*(x[0]-2), 2*(x[1]-1)
			return nil
		},
		Inequality: []Constraint{
			{
				Func: func(x []float64) (float64, error) { return x[1] - x[0]*x[0], nil },
				Grad: func(x, g []float64) error {
					g[0], g[1] = -2*x[0], 1
					return nil
				},
			},
			{Func: func(x []float64) (float64, error) { return 2 - x[0] - x[1], nil }},
		},
		Lower: []float64{-5, -5},
		Upper: []float64{5, 5},
	}
	for _, x0 := range [][]float64{{0, 0}, {2, 2}, {-3, 4}} {
		res, err := Minimize(context.Background(), p, x0, Settings{})
		require.NoError(t, err)
		require.True(t, res.Success(), "start %v: %s", x0, res.Status)
		assert.InDelta(t, 1, res.X[0], 1e-4, "start %v", x0)
		assert.InDelta(t, 1, res.X[1], 1e-4, "start %v", x0)
		assert.InDelta(t, 1, res.F, 1e-4)
		for _, c := range res.Inequality {
			assert.GreaterOrEqual(t, c, -1e-6)
		}
	}
}

func TestActiveBound(t *testing.T) {
	p := Problem{
		Func:  func(x []float64) (float64, error) { return (x[0] - 3) * (x[0] - 3), nil },
		Lower: []float64{0},
		Upper: []float64{2},
	}
	res, err := Minimize(context.Background(), p, []float64{0.5}, Settings{})
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.InDelta(t, 2, res.X[0], 1e-9)
}

func TestBadlyScaledFarStart(t *testing.T) {
	// curvatures 2e4 and 2e-2: the first steps are cut back hard by the
	// line search and must not be mistaken for convergence
	p := Problem{
		Func: func(x []float64) (float64, error) {
			a, b := x[0]-1, x[1]+3
			return 1e4*a*a + 1e-2*b*b, nil
		},
		Grad: func(x, g []float64) error {
			g[0] = 2e4 * (x[0] - 1)
			g[1] = 2e-2 * (x[1] + 3)
			return nil
		},
		Lower: []float64{-100, -100},
		Upper: []float64{100, 100},
	}
	res, err := Minimize(context.Background(), p, []float64{90, 80}, Settings{MaxIter: 200, Tol: 1e-10, FTol: 1e-14})
	require.NoError(t, err)
	require.True(t, res.Success(), res.Status.String())
	assert.InDelta(t, 1, res.X[0], 1e-4)
	assert.InDelta(t, -3, res.X[1], 1e-4)
	assert.InDelta(t, 0, res.F, 1e-6)
}

func TestKKTResidual(t *testing.T) {
	sv := &solver{n: 2, lower: []float64{0, 0}, upper: []float64{1, 1}}
	tests := []struct {
		name string
		x    []float64
		g    []float64
		want float64
	}{
		{"interior", []float64{0.5, 0.5}, []float64{0.1, -0.3}, 0.3},
		{"held at lower", []float64{0, 0.5}, []float64{2, 1e-3}, 1e-3},
		{"held at upper", []float64{0.5, 1}, []float64{0, -5}, 0},
		{"leaving lower", []float64{0, 0.5}, []float64{-2, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sv.kktResidual(tt.x, &derivatives{g: tt.g}, nil, nil)
			assert.InDelta(t, tt.want, got, 1e-15)
		})
	}

	d := &derivatives{g: []float64{1, 1}, eq: [][]float64{{1, 1}}}
	assert.InDelta(t, 0, sv.kktResidual([]float64{0.5, 0.5}, d, []float64{1}, nil), 1e-15)
}

func TestIdempotent(t *testing.T) {
	p := rosenbrock()
	p.Equality = []Constraint{{Func: func(x []float64) (float64, error) { return x[0] - 0.5, nil }}}
	first, err := Minimize(context.Background(), p, []float64{0, 0}, Settings{MaxIter: 200})
	require.NoError(t, err)
	require.True(t, first.Success())

	second, err := Minimize(context.Background(), p, first.X, Settings{MaxIter: 200})
	require.NoError(t, err)
	require.True(t, second.Success())
	assert.InDeltaSlice(t, first.X, second.X, 1e-4)
	assert.InDelta(t, first.F, second.F, 1e-6)
	assert.InDeltaSlice(t, []float64{0.5, 0.25}, second.X, 1e-4)
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Minimize(ctx, rosenbrock(), []float64{-1.2, 1}, Settings{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Cancelled))
}

func TestStartPointFailure(t *testing.T) {
	p := Problem{Func: func(x []float64) (float64, error) { return 0, errors.New("boom") }}
	_, err := Minimize(context.Background(), p, []float64{1}, Settings{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NumericFailure))

	p = Problem{Func: func(x []float64) (float64, error) { return math.Inf(1), nil }}
	_, err = Minimize(context.Background(), p, []float64{1}, Settings{})
	assert.True(t, apperr.IsKind(err, apperr.NumericFailure))

	_, err = Minimize(context.Background(), rosenbrock(), []float64{1}, Settings{})
	assert.True(t, apperr.IsKind(err, apperr.DimensionMismatch))
}

func TestBFGSKeepsPositiveDefinite(t *testing.T) {
	b := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	// negative curvature is damped, not taken
	bfgsUpdate(b, []float64{1, 0}, []float64{-1, 0})
	assert.Greater(t, b.At(0, 0), 0.0)
	assert.InDelta(t, 1, b.At(1, 1), 1e-12)
}

func BenchmarkMinimizeRosenbrock(b *testing.B) {
	p := rosenbrock()
	for i := 0; i < b.N; i++ {
		if _, err := Minimize(context.Background(), p, []float64{-1.2, 1}, Settings{MaxIter: 500}); err != nil {
			b.Fatal(err)
		}
	}
}
