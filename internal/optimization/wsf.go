package optimization

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/result"
)

const weightDecimals = 1e10

func round10(v float64) float64 { return math.Round(v*weightDecimals) / weightDecimals }

// Weights enumerates every m-tuple with entries in {wMin, wMin+wStep, ...}
// summing to one. The tuples are the compositions of
// K = (1 - m·wMin)/wStep into m parts, ordered with the first weight
// descending, so no candidate is generated and then filtered.
func Weights(m int, wMin, wStep float64) ([][]float64, error) {
	const op = "optimization.Weights"

	if m < 1 {
		return nil, apperr.Errorf(apperr.NotEnoughObjectives, "need at least one objective, got %d", m).WithOperation(op)
	}
	if wStep <= 0 || wMin < 0 || math.IsNaN(wMin) || math.IsInf(wStep, 0) {
		return nil, apperr.Errorf(apperr.InvalidArgument, "invalid weight granularity w_min=%g w_step=%g", wMin, wStep).WithOperation(op)
	}
	free := (1 - float64(m)*wMin) / wStep
	k := math.Round(free)
	if free < -1e-9 || math.Abs(free-k) > 1e-9 {
		return nil, apperr.Errorf(apperr.InvalidArgument,
			"w_step %g does not divide the free weight 1 - %d*%g", wStep, m, wMin).WithOperation(op)
	}

	var out [][]float64
	parts := make([]int, m)
	var compose func(pos, left int)
	compose = func(pos, left int) {
		if pos == m-1 {
			parts[pos] = left
			w := make([]float64, m)
			for i, a := range parts {
				w[i] = round10(wMin + float64(a)*wStep)
			}
			out = append(out, w)
			return
		}
		for a := left; a >= 0; a-- {
			parts[pos] = a
			compose(pos+1, left-a)
		}
	}
	compose(0, int(k))
	return out, nil
}

// WeightedSum sweeps weight tuples and minimizes Σ wᵢ·fᵢ for each with SLSQP
// multistart, collecting one Pareto point per tuple.
type WeightedSum struct {
	tracker
}

// NewWeightedSum returns a weighted-sum optimizer.
func NewWeightedSum(s config.Settings, logger *zap.Logger) *WeightedSum {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeightedSum{tracker: tracker{settings: s, logger: logger.Named("optimization")}}
}

// Optimize implements Optimizer.
func (w *WeightedSum) Optimize(ctx context.Context, f *formulation.Formulation) (*result.Record, error) {
	const op = "WeightedSum.Optimize"

	start := time.Now()
	w.reset()
	m := len(f.Objectives())
	if m < 2 {
		return nil, apperr.Errorf(apperr.NotEnoughObjectives, "weighted sum needs at least 2 objectives, got %d", m).WithOperation(op)
	}
	tuples, err := Weights(m, w.settings.WMin, w.settings.WStep)
	if err != nil {
		return nil, err
	}

	work, err := w.prepare(ctx, f)
	if err != nil {
		return nil, err
	}

	out := &result.Multi{
		WMin:  w.settings.WMin,
		WStep: w.settings.WStep,
		Grid:  w.settings.GridSize,
	}
	for i, weights := range tuples {
		if err := cancelled(ctx, op); err != nil {
			return nil, err
		}
		best, err := w.minimize(ctx, w.buildProblem(work, weights), work.Bounds(), op, nil)
		if apperr.IsKind(err, apperr.Cancelled) {
			return nil, err
		}
		var point []float64
		if err == nil {
			point, err = objectiveValues(work, best.X)
		}
		if err != nil {
			w.logger.Warn("weight tuple skipped", zap.Float64s("weights", weights), zap.Error(err))
			w.record(i, nil, 0, err)
			continue
		}
		w.record(i, best.X, best.F, nil)
		out.Front = append(out.Front, work.Denormalize(point))
		out.Solutions = append(out.Solutions, best.X)
		out.Weights = append(out.Weights, weights)
	}
	if len(out.Front) == 0 {
		return nil, apperr.Errorf(apperr.NoSolution, "no weight tuple of %d produced a solution", len(tuples)).WithOperation(op)
	}

	w.logger.Info("weighted-sum sweep finished",
		zap.Int("tuples", len(tuples)),
		zap.Int("points", len(out.Front)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &result.Record{
		Kind:     result.KindMulti,
		Method:   config.MethodWSF,
		Names:    names(work),
		Multi:    out,
		Duration: time.Since(start),
	}, nil
}

func objectiveValues(f *formulation.Formulation, x []float64) ([]float64, error) {
	objs := f.Objectives()
	out := make([]float64, len(objs))
	for i, e := range objs {
		v, err := e.Eval(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
