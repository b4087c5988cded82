package optimization

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/optimization/evolutionary"
	"github.com/copyleftdev/optbench/internal/result"
)

// Evolutionary runs NSGA-II or NSGA-III over the formulation and returns the
// final feasible non-dominated front.
type Evolutionary struct {
	tracker
}

// NewEvolutionary returns an evolutionary optimizer; s.Method selects the
// algorithm.
func NewEvolutionary(s config.Settings, logger *zap.Logger) *Evolutionary {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evolutionary{tracker: tracker{settings: s, logger: logger.Named("optimization")}}
}

func funcs(list []*formulation.Expression) []evolutionary.Func {
	out := make([]evolutionary.Func, len(list))
	for i, e := range list {
		out[i] = e.Eval
	}
	return out
}

// Optimize implements Optimizer.
func (e *Evolutionary) Optimize(ctx context.Context, f *formulation.Formulation) (*result.Record, error) {
	const op = "Evolutionary.Optimize"

	start := time.Now()
	e.reset()
	algorithm := strings.ToLower(e.settings.Method)

	work, err := e.prepare(ctx, f)
	if err != nil {
		return nil, err
	}
	p := evolutionary.Problem{
		Objectives: funcs(work.Objectives()),
		Equality:   funcs(work.EqualityConstraints()),
		Inequality: funcs(work.InequalityConstraints()),
	}
	for _, b := range work.Bounds() {
		p.Lower = append(p.Lower, b.Min)
		p.Upper = append(p.Upper, b.Max)
	}
	s := evolutionary.Settings{
		Generations: e.settings.Generations,
		Population:  e.settings.Population,
		Partitions:  e.settings.Partitions,
		Crossover:   e.settings.Crossover,
		Mutation:    e.settings.Mutation,
		Seed:        e.settings.Seed,
		Logger:      e.logger,
		OnGeneration: func(gen int, pop []evolutionary.Individual) {
			for _, ind := range pop {
				if ind.Rank == 0 && ind.Feasible() {
					e.record(gen, ind.Variables, ind.Objectives[0], nil)
					return
				}
			}
			e.record(gen, nil, 0, apperr.New(apperr.NoSolution, "no feasible individual"))
		},
	}

	var pop []evolutionary.Individual
	size := s.Population
	switch algorithm {
	case config.MethodNSGA2:
		pop, err = evolutionary.NSGA2(ctx, p, s)
	case config.MethodNSGA3:
		size = len(evolutionary.ReferenceDirections(len(p.Objectives), s.Partitions))
		pop, err = evolutionary.NSGA3(ctx, p, s)
	default:
		return nil, apperr.Errorf(apperr.InvalidArgument, "unknown evolutionary method %q", algorithm).WithOperation(op)
	}
	if err != nil {
		return nil, err
	}

	front := evolutionary.Front(pop)
	if len(front) == 0 {
		return nil, apperr.New(apperr.NoSolution, "final population has no feasible individual").WithOperation(op)
	}
	out := &result.Evo{
		Algorithm:   algorithm,
		Generations: s.Generations,
		Crossover:   s.Crossover,
		Mutation:    s.Mutation,
		Population:  size,
	}
	for _, ind := range front {
		out.Front = append(out.Front, work.Denormalize(ind.Objectives))
		out.Solutions = append(out.Solutions, ind.Variables)
	}

	e.logger.Info("evolutionary optimization finished",
		zap.String("algorithm", algorithm),
		zap.Int("front", len(front)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &result.Record{
		Kind:     result.KindEvo,
		Method:   algorithm,
		Names:    names(work),
		Evo:      out,
		Duration: time.Since(start),
	}, nil
}
