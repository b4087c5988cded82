package evolutionary

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// ReferenceDirections returns the Das–Dennis points of the unit simplex in m
// dimensions with the given number of partitions: every vector of
// non-negative multiples of 1/partitions summing to one.
func ReferenceDirections(m, partitions int) [][]float64 {
	if m < 1 || partitions < 1 {
		return nil
	}
	var out [][]float64
	parts := make([]int, m)
	var fill func(pos, left int)
	fill = func(pos, left int) {
		if pos == m-1 {
			parts[pos] = left
			w := make([]float64, m)
			for i, a := range parts {
				w[i] = float64(a) / float64(partitions)
			}
			out = append(out, w)
			return
		}
		for a := left; a >= 0; a-- {
			parts[pos] = a
			fill(pos+1, left-a)
		}
	}
	fill(0, partitions)
	return out
}

// NSGA3 runs NSGA-III with one population member per reference direction and
// returns the final population.
func NSGA3(ctx context.Context, p Problem, s Settings) ([]Individual, error) {
	const op = "evolutionary.NSGA3"

	if err := p.check(op, 2); err != nil {
		return nil, err
	}
	refs := ReferenceDirections(len(p.Objectives), s.Partitions)
	if len(refs) == 0 {
		return nil, apperr.Errorf(apperr.InvalidArgument, "partitions must be positive, got %d", s.Partitions).WithOperation(op)
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nsga3")

	n := len(refs)
	ops := s.operators(&p)
	population := ops.random(n)
	for i := range population {
		p.evaluate(&population[i])
	}
	NonDominatedSort(population)

	for gen := 0; gen < s.Generations; gen++ {
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(ctx.Err(), apperr.Cancelled, "optimization cancelled").WithOperation(op)
		default:
		}

		children := ops.offspring(population, n)
		for i := range children {
			p.evaluate(&children[i])
		}
		population = survive3(append(population, children...), n, refs, ops.rng)

		if s.OnGeneration != nil {
			s.OnGeneration(gen, population)
		}
		logger.Debug("generation", zap.Int("generation", gen), zap.Int("size", len(population)))
	}
	return population, nil
}

// survive3 fills whole fronts and completes the last one by reference-point
// niching.
func survive3(combined []Individual, n int, refs [][]float64, rng *rand.Rand) []Individual {
	var chosen, last []int
	for _, front := range NonDominatedSort(combined) {
		if len(chosen)+len(front) <= n {
			chosen = append(chosen, front...)
			if len(chosen) == n {
				break
			}
			continue
		}
		last = front
		break
	}

	if last != nil {
		members := append(append([]int(nil), chosen...), last...)
		assoc, dist := associate(combined, members, refs)

		niche := make([]int, len(refs))
		for k := range chosen {
			niche[assoc[k]]++
		}
		offset := len(chosen)
		picked := make([]bool, len(last))
		excluded := make([]bool, len(refs))

		for left := n - len(chosen); left > 0; {
			minCount := math.MaxInt
			var candidates []int
			for j, c := range niche {
				if excluded[j] {
					continue
				}
				switch {
				case c < minCount:
					minCount, candidates = c, []int{j}
				case c == minCount:
					candidates = append(candidates, j)
				}
			}
			if len(candidates) == 0 {
				break
			}
			j := candidates[rng.Intn(len(candidates))]

			var pool []int
			for k := range last {
				if !picked[k] && assoc[offset+k] == j {
					pool = append(pool, k)
				}
			}
			if len(pool) == 0 {
				excluded[j] = true
				continue
			}
			pick := pool[rng.Intn(len(pool))]
			if niche[j] == 0 {
				for _, k := range pool {
					if dist[offset+k] < dist[offset+pick] {
						pick = k
					}
				}
			}
			picked[pick] = true
			chosen = append(chosen, last[pick])
			niche[j]++
			left--
		}
	}

	next := make([]Individual, len(chosen))
	for i, idx := range chosen {
		next[i] = combined[idx]
	}
	return next
}

// associate normalizes the objectives of members and returns, per member,
// the nearest reference direction and the perpendicular distance to it.
func associate(pop []Individual, members []int, refs [][]float64) ([]int, []float64) {
	m := len(refs[0])
	var finite []int
	for _, i := range members {
		if allFinite(pop[i].Objectives) {
			finite = append(finite, i)
		}
	}

	assoc := make([]int, len(members))
	dist := make([]float64, len(members))
	for k := range dist {
		dist[k] = math.Inf(1)
	}
	if len(finite) == 0 {
		return assoc, dist
	}

	ideal := make([]float64, m)
	copy(ideal, pop[finite[0]].Objectives)
	for _, i := range finite {
		for d, v := range pop[i].Objectives {
			ideal[d] = math.Min(ideal[d], v)
		}
	}
	scale := intercepts(pop, finite, ideal)

	v := make([]float64, m)
	proj := make([]float64, m)
	for k, i := range members {
		if !allFinite(pop[i].Objectives) {
			continue
		}
		for d, f := range pop[i].Objectives {
			v[d] = (f - ideal[d]) / scale[d]
		}
		for j, w := range refs {
			floats.ScaleTo(proj, floats.Dot(v, w)/floats.Dot(w, w), w)
			floats.Sub(proj, v)
			if d := floats.Norm(proj, 2); d < dist[k] {
				assoc[k], dist[k] = j, d
			}
		}
	}
	return assoc, dist
}

// intercepts finds the axis intercepts of the hyperplane through the extreme
// points, falling back to the worst value per objective when the plane is
// degenerate.
func intercepts(pop []Individual, members []int, ideal []float64) []float64 {
	m := len(ideal)
	nadir := make([]float64, m)
	for _, i := range members {
		for d, f := range pop[i].Objectives {
			nadir[d] = math.Max(nadir[d], f-ideal[d])
		}
	}

	extreme := mat.NewDense(m, m, nil)
	for axis := 0; axis < m; axis++ {
		best, bestASF := members[0], math.Inf(1)
		for _, i := range members {
			asf := 0.0
			for d, f := range pop[i].Objectives {
				w := 1e-6
				if d == axis {
					w = 1
				}
				asf = math.Max(asf, (f-ideal[d])/w)
			}
			if asf < bestASF {
				best, bestASF = i, asf
			}
		}
		for d, f := range pop[best].Objectives {
			extreme.Set(axis, d, f-ideal[d])
		}
	}

	out := make([]float64, m)
	ones := mat.NewVecDense(m, nil)
	for d := 0; d < m; d++ {
		ones.SetVec(d, 1)
	}
	var b mat.VecDense
	solved := b.SolveVec(extreme, ones) == nil
	for d := 0; d < m; d++ {
		a := math.NaN()
		if solved && b.AtVec(d) > 0 {
			a = 1 / b.AtVec(d)
		}
		if math.IsNaN(a) || math.IsInf(a, 0) || a <= 1e-10 {
			a = nadir[d]
		}
		if a <= 1e-10 {
			a = 1
		}
		out[d] = a
	}
	return out
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
