package optimization

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/optimization/slsqp"
)

// Normalize rescales every objective of f to its range over the variable
// bounds. The extrema come from SLSQP runs minimizing f and -f from the lower
// and upper corners, constraints ignored. An objective whose extrema cannot be
// found, or are not finite, is left as it is; f.Normalization reports which
// objectives were rescaled.
func Normalize(ctx context.Context, f *formulation.Formulation, s config.Settings, logger *zap.Logger) error {
	const op = "optimization.Normalize"

	if logger == nil {
		logger = zap.NewNop()
	}
	t := &tracker{settings: s, logger: logger}

	bounds := f.Bounds()
	lower, upper := make([]float64, len(bounds)), make([]float64, len(bounds))
	for i, b := range bounds {
		lower[i], upper[i] = b.Min, b.Max
	}
	corners := [][]float64{lower, upper}

	m := len(f.Objectives())
	for i := 0; i < m; i++ {
		weights := make([]float64, m)

		weights[i] = 1
		fmin, err := t.extremum(ctx, f, weights, corners, op)
		if err != nil {
			return err
		}
		weights[i] = -1
		negMax, err := t.extremum(ctx, f, weights, corners, op)
		if err != nil {
			return err
		}
		fmax := -negMax

		name := f.Objectives()[i].Name
		if math.IsNaN(fmin) || math.IsNaN(fmax) || math.IsInf(fmin, 0) || math.IsInf(fmax, 0) {
			logger.Warn("objective not normalized", zap.String("objective", name),
				zap.Float64("fmin", fmin), zap.Float64("fmax", fmax))
			continue
		}
		if err := f.ApplyNormalization(i, fmin, fmax); err != nil {
			logger.Warn("objective not normalized", zap.String("objective", name), zap.Error(err))
			continue
		}
		logger.Debug("objective normalized", zap.String("objective", name),
			zap.Float64("fmin", fmin), zap.Float64("fmax", fmax))
	}
	return nil
}

// extremum returns the lowest value of Σ wᵢ·fᵢ found from the given starts,
// or NaN when every start fails. Only cancellation is returned as an error.
func (t *tracker) extremum(ctx context.Context, f *formulation.Formulation, weights []float64, starts [][]float64, op string) (float64, error) {
	p := t.buildProblem(f, weights)
	p.Equality, p.Inequality = nil, nil

	best := math.NaN()
	for _, x0 := range starts {
		if err := cancelled(ctx, op); err != nil {
			return 0, err
		}
		res, err := slsqp.Minimize(ctx, p, x0, t.solverSettings())
		if apperr.IsKind(err, apperr.Cancelled) {
			return 0, err
		}
		if err != nil || !res.Success() {
			continue
		}
		if math.IsNaN(best) || res.F < best {
			best = res.F
		}
	}
	return best, nil
}
