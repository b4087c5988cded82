package optimization

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/optimization/slsqp"
	"github.com/copyleftdev/optbench/internal/result"
)

// Grid returns the g^k start points of a uniform grid over bounds, the first
// variable varying fastest. With g = 1 the single point is the box centre.
func Grid(bounds []formulation.Bound, g int) [][]float64 {
	if g < 1 || len(bounds) == 0 {
		return nil
	}
	levels := make([][]float64, len(bounds))
	for i, b := range bounds {
		if g == 1 {
			levels[i] = []float64{(b.Min + b.Max) / 2}
			continue
		}
		levels[i] = make([]float64, g)
		for j := 0; j < g; j++ {
			levels[i][j] = b.Min + float64(j)*(b.Max-b.Min)/float64(g-1)
		}
	}

	total := 1
	for range bounds {
		total *= g
	}
	points := make([][]float64, total)
	for p := range points {
		x := make([]float64, len(bounds))
		idx := p
		for i := range bounds {
			x[i] = levels[i][idx%g]
			idx /= g
		}
		points[p] = x
	}
	return points
}

// startFunc observes the outcome of one start.
type startFunc func(i int, x []float64, f float64, err error)

// minimize runs SLSQP from every grid point and keeps the lowest successful
// result.
func (t *tracker) minimize(ctx context.Context, p slsqp.Problem, bounds []formulation.Bound, op string, observe startFunc) (*slsqp.Result, error) {
	if observe == nil {
		observe = func(int, []float64, float64, error) {}
	}
	var best *slsqp.Result
	failures := 0
	for i, x0 := range Grid(bounds, t.settings.GridSize) {
		if err := cancelled(ctx, op); err != nil {
			return nil, err
		}
		res, err := slsqp.Minimize(ctx, p, x0, t.solverSettings())
		if apperr.IsKind(err, apperr.Cancelled) {
			return nil, err
		}
		if err == nil && !res.Success() {
			err = apperr.Errorf(apperr.NumericFailure, "start %d: %s after %d iterations", i+1, res.Status, res.Iterations)
		}
		if err != nil {
			failures++
			t.logger.Debug("start failed", zap.Int("start", i+1), zap.Float64s("x0", x0), zap.Error(err))
			observe(i, x0, 0, err)
			continue
		}
		observe(i, res.X, res.F, nil)
		if best == nil || res.F < best.F {
			best = res
		}
	}
	if best == nil {
		return nil, apperr.Errorf(apperr.NoSolution, "all %d starts failed", failures).WithOperation(op)
	}
	return best, nil
}

// Multistart minimizes a single objective with SLSQP from a grid of starts.
type Multistart struct {
	tracker
}

// NewMultistart returns an SLSQP multistart optimizer.
func NewMultistart(s config.Settings, logger *zap.Logger) *Multistart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multistart{tracker: tracker{settings: s, logger: logger.Named("optimization")}}
}

// Optimize implements Optimizer.
func (m *Multistart) Optimize(ctx context.Context, f *formulation.Formulation) (*result.Record, error) {
	const op = "Multistart.Optimize"

	start := time.Now()
	m.reset()
	switch n := len(f.Objectives()); {
	case n == 0:
		return nil, apperr.New(apperr.NotEnoughObjectives, "no objective declared").WithOperation(op)
	case n > 1:
		return nil, apperr.Errorf(apperr.TooManyObjectives, "SLSQP takes one objective, got %d", n).WithOperation(op)
	}

	work, err := m.prepare(ctx, f)
	if err != nil {
		return nil, err
	}
	best, err := m.minimize(ctx, m.buildProblem(work, []float64{1}), work.Bounds(), op, m.record)
	if err != nil {
		return nil, err
	}

	// slsqp reports inequalities as -body; the record holds the body values
	ineq := make([]float64, len(best.Inequality))
	for i, v := range best.Inequality {
		ineq[i] = -v
	}
	objective := work.Denormalize([]float64{best.F})[0]
	m.logger.Info("single-objective optimization finished",
		zap.Float64("objective", objective),
		zap.Int("starts", len(m.history)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &result.Record{
		Kind:   result.KindSingle,
		Method: config.MethodSLSQP,
		Names:  names(work),
		Single: &result.Single{
			Objective:  objective,
			Solution:   best.X,
			Equality:   best.Equality,
			Inequality: ineq,
			Jacobian:   best.Grad,
		},
		Duration: time.Since(start),
	}, nil
}
