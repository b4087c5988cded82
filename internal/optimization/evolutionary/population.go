// Package evolutionary implements the NSGA-II and NSGA-III multi-objective
// genetic algorithms with constraint-domination.
package evolutionary

import (
	"math"
	"sort"
)

// Func is one objective or constraint body.
type Func func(x []float64) (float64, error)

// Problem is a box-bounded multi-objective program. Equality bodies are
// satisfied at h(x) = 0 and inequality bodies at g(x) ≤ 0.
type Problem struct {
	Objectives []Func
	Equality   []Func
	Inequality []Func
	Lower      []float64
	Upper      []float64
}

// EqualityTolerance is the |h(x)| accepted as satisfying an equality.
const EqualityTolerance = 1e-4

// Individual is one member of a population.
type Individual struct {
	Variables  []float64
	Objectives []float64
	// Violation is the summed constraint violation, zero when feasible and
	// +Inf when the individual could not be evaluated.
	Violation float64
	Rank      int
	Distance  float64
}

// Feasible reports whether every constraint holds.
func (ind *Individual) Feasible() bool { return ind.Violation == 0 }

func (p *Problem) evaluate(ind *Individual) {
	ind.Objectives = make([]float64, len(p.Objectives))
	ind.Violation = 0
	fail := func() {
		for i := range ind.Objectives {
			ind.Objectives[i] = math.Inf(1)
		}
		ind.Violation = math.Inf(1)
	}
	for i, f := range p.Objectives {
		v, err := f(ind.Variables)
		if err != nil || math.IsNaN(v) {
			fail()
			return
		}
		ind.Objectives[i] = v
	}
	for _, h := range p.Equality {
		v, err := h(ind.Variables)
		if err != nil || math.IsNaN(v) {
			fail()
			return
		}
		ind.Violation += math.Max(0, math.Abs(v)-EqualityTolerance)
	}
	for _, g := range p.Inequality {
		v, err := g(ind.Variables)
		if err != nil || math.IsNaN(v) {
			fail()
			return
		}
		ind.Violation += math.Max(0, v)
	}
}

// Dominates reports whether a constraint-dominates b: a feasible individual
// beats an infeasible one, between infeasible ones the smaller violation
// wins, and between feasible ones ordinary Pareto dominance applies.
func Dominates(a, b *Individual) bool {
	if a.Violation != b.Violation {
		if a.Violation == 0 || b.Violation == 0 {
			return a.Violation == 0
		}
		return a.Violation < b.Violation
	}
	if a.Violation > 0 {
		return false
	}
	better := false
	for i := range a.Objectives {
		if a.Objectives[i] > b.Objectives[i] {
			return false
		}
		if a.Objectives[i] < b.Objectives[i] {
			better = true
		}
	}
	return better
}

// NonDominatedSort splits population into fronts of indices and sets every
// member's Rank to its front number.
func NonDominatedSort(population []Individual) [][]int {
	n := len(population)
	dominated := make([][]int, n)
	domCount := make([]int, n)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case Dominates(&population[i], &population[j]):
				dominated[i] = append(dominated[i], j)
				domCount[j]++
			case Dominates(&population[j], &population[i]):
				dominated[j] = append(dominated[j], i)
				domCount[i]++
			}
		}
	}

	var fronts [][]int
	var current []int
	for i := 0; i < n; i++ {
		if domCount[i] == 0 {
			population[i].Rank = 0
			current = append(current, i)
		}
	}
	for rank := 0; len(current) > 0; rank++ {
		fronts = append(fronts, current)
		var next []int
		for _, i := range current {
			for _, j := range dominated[i] {
				domCount[j]--
				if domCount[j] == 0 {
					population[j].Rank = rank + 1
					next = append(next, j)
				}
			}
		}
		current = next
	}
	return fronts
}

// CrowdingDistance sets Distance for the members of one front.
func CrowdingDistance(population []Individual, front []int) {
	if len(front) <= 2 {
		for _, i := range front {
			population[i].Distance = math.Inf(1)
		}
		return
	}
	for _, i := range front {
		population[i].Distance = 0
	}

	order := append([]int(nil), front...)
	numObjectives := len(population[front[0]].Objectives)
	for m := 0; m < numObjectives; m++ {
		sort.SliceStable(order, func(a, b int) bool {
			return population[order[a]].Objectives[m] < population[order[b]].Objectives[m]
		})
		first, last := population[order[0]].Objectives[m], population[order[len(order)-1]].Objectives[m]
		population[order[0]].Distance = math.Inf(1)
		population[order[len(order)-1]].Distance = math.Inf(1)

		span := last - first
		if span == 0 || math.IsInf(span, 0) || math.IsNaN(span) {
			continue
		}
		for k := 1; k < len(order)-1; k++ {
			population[order[k]].Distance += (population[order[k+1]].Objectives[m] - population[order[k-1]].Objectives[m]) / span
		}
	}
}

// Front returns the feasible rank-0 members of population.
func Front(population []Individual) []Individual {
	pop := append([]Individual(nil), population...)
	fronts := NonDominatedSort(pop)
	var out []Individual
	if len(fronts) == 0 {
		return nil
	}
	for _, i := range fronts[0] {
		if pop[i].Feasible() {
			out = append(out, pop[i])
		}
	}
	return out
}
