package evolutionary

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

func schaffer() Problem {
	return Problem{
		Objectives: []Func{
			func(x []float64) (float64, error) { return x[0] * x[0], nil },
			func(x []float64) (float64, error) { return (x[0] - 2) * (x[0] - 2), nil },
		},
		Lower: []float64{-5},
		Upper: []float64{5},
	}
}

func twoCircles() Problem {
	return Problem{
		Objectives: []Func{
			func(x []float64) (float64, error) { return x[0]*x[0] + x[1]*x[1], nil },
			func(x []float64) (float64, error) {
				return (x[0]-1)*(x[0]-1) + (x[1]-1)*(x[1]-1), nil
			},
		},
		Lower: []float64{-2, -2},
		Upper: []float64{2, 2},
	}
}

func assertNonDominated(t *testing.T, front []Individual) {
	t.Helper()
	for i := range front {
		for j := range front {
			if i != j {
				assert.False(t, Dominates(&front[i], &front[j]), "%v dominates %v", front[i].Objectives, front[j].Objectives)
			}
		}
	}
}

func TestDominates(t *testing.T) {
	tests := []struct {
		name string
		a, b Individual
		want bool
	}{
		{"pareto better", Individual{Objectives: []float64{1, 1}}, Individual{Objectives: []float64{1, 2}}, true},
		{"equal", Individual{Objectives: []float64{1, 2}}, Individual{Objectives: []float64{1, 2}}, false},
		{"trade-off", Individual{Objectives: []float64{0, 3}}, Individual{Objectives: []float64{1, 2}}, false},
		{"feasible beats infeasible", Individual{Objectives: []float64{9, 9}}, Individual{Objectives: []float64{0, 0}, Violation: 0.1}, true},
		{"infeasible never beats feasible", Individual{Objectives: []float64{0, 0}, Violation: 0.1}, Individual{Objectives: []float64{9, 9}}, false},
		{"smaller violation", Individual{Objectives: []float64{9, 9}, Violation: 0.1}, Individual{Objectives: []float64{0, 0}, Violation: 0.2}, true},
		{"equal violation", Individual{Objectives: []float64{0, 0}, Violation: 0.2}, Individual{Objectives: []float64{1, 1}, Violation: 0.2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dominates(&tt.a, &tt.b))
		})
	}
}

func TestNonDominatedSort(t *testing.T) {
	pop := []Individual{
		{Objectives: []float64{1, 4}},
		{Objectives: []float64{2, 2}},
		{Objectives: []float64{3, 3}},
		{Objectives: []float64{4, 1}},
		{Objectives: []float64{5, 5}},
		{Objectives: []float64{0, 0}, Violation: 1},
	}
	fronts := NonDominatedSort(pop)
	require.Len(t, fronts, 4)
	assert.ElementsMatch(t, []int{0, 1, 3}, fronts[0])
	assert.Equal(t, []int{2}, fronts[1])
	assert.Equal(t, []int{4}, fronts[2])
	assert.Equal(t, []int{5}, fronts[3])
	assert.Equal(t, []int{0, 0, 1, 0, 2, 3}, []int{pop[0].Rank, pop[1].Rank, pop[2].Rank, pop[3].Rank, pop[4].Rank, pop[5].Rank})
}

func TestCrowdingDistance(t *testing.T) {
	pop := []Individual{
		{Objectives: []float64{0, 4}},
		{Objectives: []float64{1, 2}},
		{Objectives: []float64{3, 1}},
		{Objectives: []float64{4, 0}},
	}
	CrowdingDistance(pop, []int{0, 1, 2, 3})
	assert.True(t, math.IsInf(pop[0].Distance, 1))
	assert.True(t, math.IsInf(pop[3].Distance, 1))
	assert.InDelta(t, 3.0/4+3.0/4, pop[1].Distance, 1e-12)
	assert.InDelta(t, 3.0/4+2.0/4, pop[2].Distance, 1e-12)
}

func TestReferenceDirections(t *testing.T) {
	tests := []struct {
		m, p, want int
	}{
		{2, 12, 13},
		{3, 4, 15},
		{3, 12, 91},
		{4, 3, 20},
	}
	for _, tt := range tests {
		refs := ReferenceDirections(tt.m, tt.p)
		require.Len(t, refs, tt.want)
		for _, w := range refs {
			sum := 0.0
			for _, v := range w {
				assert.GreaterOrEqual(t, v, 0.0)
				sum += v
			}
			assert.InDelta(t, 1, sum, 1e-12)
		}
	}
	assert.Equal(t, []float64{1, 0}, ReferenceDirections(2, 4)[0])
	assert.Nil(t, ReferenceDirections(2, 0))
}

func TestNSGA2Schaffer(t *testing.T) {
	pop, err := NSGA2(context.Background(), schaffer(), Settings{
		Generations: 60, Population: 40, Crossover: 0.9, Mutation: 0.2, Seed: 7,
	})
	require.NoError(t, err)
	require.Len(t, pop, 40)

	front := Front(pop)
	require.NotEmpty(t, front)
	assertNonDominated(t, front)
	for _, ind := range front {
		assert.GreaterOrEqual(t, ind.Variables[0], -0.05)
		assert.LessOrEqual(t, ind.Variables[0], 2.05)
	}
}

func TestNSGA2Deterministic(t *testing.T) {
	s := Settings{Generations: 15, Population: 20, Crossover: 0.9, Mutation: 0.1, Seed: 42}
	a, err := NSGA2(context.Background(), schaffer(), s)
	require.NoError(t, err)
	b, err := NSGA2(context.Background(), schaffer(), s)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	s.Seed = 43
	c, err := NSGA2(context.Background(), schaffer(), s)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestNSGA2Constrained(t *testing.T) {
	p := schaffer()
	p.Inequality = []Func{func(x []float64) (float64, error) { return 1 - x[0], nil }}
	var generations int
	pop, err := NSGA2(context.Background(), p, Settings{
		Generations: 40, Population: 30, Crossover: 0.9, Mutation: 0.2, Seed: 3,
		OnGeneration: func(int, []Individual) { generations++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 40, generations)

	front := Front(pop)
	require.NotEmpty(t, front)
	for _, ind := range front {
		assert.GreaterOrEqual(t, ind.Variables[0], 1.0)
		assert.True(t, ind.Feasible())
	}
}

func TestNSGA3TwoObjectives(t *testing.T) {
	pop, err := NSGA3(context.Background(), twoCircles(), Settings{
		Generations: 150, Partitions: 12, Crossover: 0.9, Mutation: 0.5, Seed: 1,
	})
	require.NoError(t, err)
	require.Len(t, pop, 13)

	front := Front(pop)
	require.NotEmpty(t, front)
	assertNonDominated(t, front)
	for _, ind := range front {
		s := math.Sqrt(ind.Objectives[0]) + math.Sqrt(ind.Objectives[1])
		assert.Less(t, s, math.Sqrt2+0.15, "point %v", ind.Objectives)
	}
}

func TestEvaluationFailureIsInfeasible(t *testing.T) {
	p := schaffer()
	p.Objectives[0] = func(x []float64) (float64, error) {
		if x[0] < 0 {
			return 0, errors.New("negative")
		}
		return x[0] * x[0], nil
	}
	ind := Individual{Variables: []float64{-1}}
	p.evaluate(&ind)
	assert.True(t, math.IsInf(ind.Violation, 1))
	assert.False(t, ind.Feasible())

	ind = Individual{Variables: []float64{1}}
	p.evaluate(&ind)
	assert.True(t, ind.Feasible())
	assert.Equal(t, []float64{1, 1}, ind.Objectives)
}

func TestInvalidRuns(t *testing.T) {
	ctx := context.Background()
	s := Settings{Generations: 5, Population: 10, Partitions: 4, Crossover: 0.9, Mutation: 0.1}

	one := schaffer()
	one.Objectives = one.Objectives[:1]
	_, err := NSGA3(ctx, one, s)
	assert.True(t, apperr.IsKind(err, apperr.NotEnoughObjectives))

	bad := schaffer()
	bad.Upper = nil
	_, err = NSGA2(ctx, bad, s)
	assert.True(t, apperr.IsKind(err, apperr.DimensionMismatch))

	_, err = NSGA2(ctx, schaffer(), Settings{Population: 1})
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NSGA3(cctx, schaffer(), s)
	assert.True(t, apperr.IsKind(err, apperr.Cancelled))
}

func BenchmarkNSGA2(b *testing.B) {
	s := Settings{Generations: 20, Population: 40, Crossover: 0.9, Mutation: 0.1, Seed: 1}
	for i := 0; i < b.N; i++ {
		if _, err := NSGA2(context.Background(), twoCircles(), s); err != nil {
			b.Fatal(err)
		}
	}
}
