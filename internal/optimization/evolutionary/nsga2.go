package evolutionary

import (
	"context"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Settings configures a run.
type Settings struct {
	Generations int
	// Population is the NSGA-II population size. NSGA-III sizes its
	// population from the reference directions instead.
	Population int
	// Partitions is the Das–Dennis partition count of NSGA-III.
	Partitions int
	Crossover  float64
	Mutation   float64
	Seed       int64

	Logger *zap.Logger
	// OnGeneration, when set, is called after every generation with the
	// surviving population.
	OnGeneration func(generation int, population []Individual)
}

func (p *Problem) check(op string, minObjectives int) error {
	if len(p.Lower) == 0 || len(p.Lower) != len(p.Upper) {
		return apperr.Errorf(apperr.DimensionMismatch, "bounds have %d lower and %d upper entries", len(p.Lower), len(p.Upper)).WithOperation(op)
	}
	for i := range p.Lower {
		if p.Lower[i] > p.Upper[i] {
			return apperr.Errorf(apperr.InvalidArgument, "variable %d: lower bound %g above upper bound %g", i+1, p.Lower[i], p.Upper[i]).WithOperation(op)
		}
	}
	if len(p.Objectives) < minObjectives {
		return apperr.Errorf(apperr.NotEnoughObjectives, "need at least %d objectives, got %d", minObjectives, len(p.Objectives)).WithOperation(op)
	}
	return nil
}

func (s Settings) operators(p *Problem) *operators {
	return &operators{
		rng:       rand.New(rand.NewSource(s.Seed)),
		lower:     p.Lower,
		upper:     p.Upper,
		crossover: s.Crossover,
		mutation:  s.Mutation,
	}
}

// NSGA2 runs NSGA-II and returns the final population.
func NSGA2(ctx context.Context, p Problem, s Settings) ([]Individual, error) {
	const op = "evolutionary.NSGA2"

	if err := p.check(op, 1); err != nil {
		return nil, err
	}
	if s.Population < 2 {
		return nil, apperr.Errorf(apperr.InvalidArgument, "population must be at least 2, got %d", s.Population).WithOperation(op)
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nsga2")

	ops := s.operators(&p)
	population := ops.random(s.Population)
	for i := range population {
		p.evaluate(&population[i])
	}
	for _, front := range NonDominatedSort(population) {
		CrowdingDistance(population, front)
	}

	for gen := 0; gen < s.Generations; gen++ {
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(ctx.Err(), apperr.Cancelled, "optimization cancelled").WithOperation(op)
		default:
		}

		children := ops.offspring(population, s.Population)
		for i := range children {
			p.evaluate(&children[i])
		}
		population = survive2(append(population, children...), s.Population)

		if s.OnGeneration != nil {
			s.OnGeneration(gen, population)
		}
		logger.Debug("generation", zap.Int("generation", gen), zap.Int("size", len(population)))
	}
	return population, nil
}

// survive2 keeps the best n of combined by rank, then crowding distance.
func survive2(combined []Individual, n int) []Individual {
	fronts := NonDominatedSort(combined)
	next := make([]Individual, 0, n)
	for _, front := range fronts {
		CrowdingDistance(combined, front)
		if len(next)+len(front) <= n {
			for _, i := range front {
				next = append(next, combined[i])
			}
			continue
		}
		order := append([]int(nil), front...)
		sort.SliceStable(order, func(a, b int) bool {
			return combined[order[a]].Distance > combined[order[b]].Distance
		})
		for _, i := range order[:n-len(next)] {
			next = append(next, combined[i])
		}
		break
	}
	return next
}
