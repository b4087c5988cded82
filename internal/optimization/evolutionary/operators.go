package evolutionary

import (
	"math"
	"math/rand"
)

const (
	// crossoverEta is the SBX distribution index.
	crossoverEta = 15.0
	// mutationEta is the polynomial mutation distribution index.
	mutationEta = 20.0
)

type operators struct {
	rng          *rand.Rand
	lower, upper []float64
	crossover    float64
	mutation     float64
}

func (o *operators) random(n int) []Individual {
	pop := make([]Individual, n)
	for i := range pop {
		x := make([]float64, len(o.lower))
		for j := range x {
			x[j] = o.lower[j] + o.rng.Float64()*(o.upper[j]-o.lower[j])
		}
		pop[i] = Individual{Variables: x}
	}
	return pop
}

// tournament picks the better of two random members by rank, then crowding
// distance, then at random.
func (o *operators) tournament(pop []Individual) *Individual {
	a := &pop[o.rng.Intn(len(pop))]
	b := &pop[o.rng.Intn(len(pop))]
	switch {
	case a.Rank != b.Rank:
		if a.Rank < b.Rank {
			return a
		}
		return b
	case a.Distance != b.Distance:
		if a.Distance > b.Distance {
			return a
		}
		return b
	case o.rng.Float64() < 0.5:
		return a
	}
	return b
}

func (o *operators) clip(v float64, i int) float64 {
	return math.Max(o.lower[i], math.Min(o.upper[i], v))
}

// sbx is bounded simulated binary crossover applied with probability
// o.crossover per pair and 0.5 per variable.
func (o *operators) sbx(p1, p2 *Individual) (Individual, Individual) {
	c1 := Individual{Variables: append([]float64(nil), p1.Variables...)}
	c2 := Individual{Variables: append([]float64(nil), p2.Variables...)}
	if o.rng.Float64() >= o.crossover {
		return c1, c2
	}

	expo := 1 / (crossoverEta + 1)
	betaq := func(beta float64) float64 {
		alpha := 2 - math.Pow(beta, -(crossoverEta+1))
		u := o.rng.Float64()
		if u <= 1/alpha {
			return math.Pow(u*alpha, expo)
		}
		return math.Pow(1/(2-u*alpha), expo)
	}

	for i := range c1.Variables {
		if o.rng.Float64() > 0.5 {
			continue
		}
		y1, y2 := p1.Variables[i], p2.Variables[i]
		if math.Abs(y1-y2) <= 1e-14 {
			continue
		}
		if y1 > y2 {
			y1, y2 = y2, y1
		}
		lo, hi := o.lower[i], o.upper[i]

		v1 := 0.5 * ((y1 + y2) - betaq(1+2*(y1-lo)/(y2-y1))*(y2-y1))
		v2 := 0.5 * ((y1 + y2) + betaq(1+2*(hi-y2)/(y2-y1))*(y2-y1))
		v1, v2 = o.clip(v1, i), o.clip(v2, i)
		if o.rng.Float64() < 0.5 {
			v1, v2 = v2, v1
		}
		c1.Variables[i], c2.Variables[i] = v1, v2
	}
	return c1, c2
}

// mutate applies bounded polynomial mutation to each variable with
// probability o.mutation.
func (o *operators) mutate(ind *Individual) {
	expo := 1 / (mutationEta + 1)
	for i, y := range ind.Variables {
		if o.rng.Float64() >= o.mutation {
			continue
		}
		lo, hi := o.lower[i], o.upper[i]
		span := hi - lo
		if span <= 0 {
			continue
		}
		d1, d2 := (y-lo)/span, (hi-y)/span
		u := o.rng.Float64()
		var dq float64
		if u < 0.5 {
			v := 2*u + (1-2*u)*math.Pow(1-d1, mutationEta+1)
			dq = math.Pow(v, expo) - 1
		} else {
			v := 2*(1-u) + 2*(u-0.5)*math.Pow(1-d2, mutationEta+1)
			dq = 1 - math.Pow(v, expo)
		}
		ind.Variables[i] = o.clip(y+dq*span, i)
	}
}

// offspring breeds n children from pop.
func (o *operators) offspring(pop []Individual, n int) []Individual {
	out := make([]Individual, 0, n+1)
	for len(out) < n {
		c1, c2 := o.sbx(o.tournament(pop), o.tournament(pop))
		o.mutate(&c1)
		o.mutate(&c2)
		out = append(out, c1, c2)
	}
	return out[:n]
}
