// Package doe generates design-of-experiments tables over normalized
// variables in [-1, 1] and evaluates function columns on them.
package doe

import (
	"math"
	"math/rand"
	"strings"
	"time"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Design names a DOE construction. Every design, the Latin hypercube
// included, produces rows in the normalized space [-1, 1]^k; real values
// come from Denormalize against the variable bounds.
type Design string

const (
	Factorial             Design = "factorial"
	CentralCompositeSph   Design = "cc-spherical"
	CentralCompositeFaced Design = "cc-face-centered"
	TaguchiDesign         Design = "taguchi"
	LatinHypercube        Design = "lhs"
)

// ParseDesign accepts a design name case-insensitively.
func ParseDesign(s string) (Design, error) {
	d := Design(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Factorial, CentralCompositeSph, CentralCompositeFaced, TaguchiDesign, LatinHypercube:
		return d, nil
	}
	return "", apperr.Errorf(apperr.UnsupportedDesign, "unknown design %q", s)
}

// Params selects a design and its size.
type Params struct {
	Design    Design
	Variables int
	Levels    int
	Points    int
	// Seed drives the Latin hypercube generator. Zero picks one from the
	// clock; the seed used is recorded on the result.
	Seed int64
	// Array forces a Taguchi array by name (e.g. "L36") instead of catalog
	// lookup.
	Array string
}

// Points are the generated rows, normalized to [-1, 1], together with the
// facts needed to reproduce them. Table.RealValues gives a row in real
// units.
type Points struct {
	Params Params
	Rows   [][]float64
	// ArrayName is set for Taguchi designs.
	ArrayName string
}

// Generate builds the normalized rows of a design.
func Generate(p Params) (*Points, error) {
	const op = "doe.Generate"

	if p.Variables < 1 {
		return nil, apperr.Errorf(apperr.InvalidArgument, "design needs at least one variable, got %d", p.Variables).WithOperation(op)
	}

	out := &Points{Params: p}
	switch p.Design {
	case Factorial:
		if p.Levels < 2 {
			return nil, apperr.Errorf(apperr.InvalidArgument, "factorial design needs at least 2 levels, got %d", p.Levels).WithOperation(op)
		}
		out.Rows = factorial(p.Variables, p.Levels)
	case CentralCompositeSph:
		out.Rows = centralComposite(p.Variables, math.Pow(float64(p.Variables), 0.25))
	case CentralCompositeFaced:
		out.Rows = centralComposite(p.Variables, 1)
	case TaguchiDesign:
		var (
			a   OrthogonalArray
			err error
		)
		if p.Array != "" {
			a, err = ArrayByName(p.Array, p.Levels)
			if err == nil && p.Variables > len(a.Build()[0]) {
				err = apperr.Errorf(apperr.UnsupportedDesign, "%s has %d columns, need %d", a.Name, len(a.Build()[0]), p.Variables)
			}
		} else {
			a, err = LookupArray(p.Levels, p.Variables)
		}
		if err != nil {
			return nil, apperr.Wrap(err, apperr.UnsupportedDesign, "").WithOperation(op)
		}
		out.Rows = taguchiPoints(a, p.Variables)
		out.ArrayName = a.Name
	case LatinHypercube:
		if p.Points < 1 {
			return nil, apperr.Errorf(apperr.InvalidArgument, "latin hypercube needs at least one point, got %d", p.Points).WithOperation(op)
		}
		if p.Seed == 0 {
			p.Seed = time.Now().UnixNano()
			out.Params.Seed = p.Seed
		}
		out.Rows = latinHypercube(p.Variables, p.Points, p.Seed)
	default:
		return nil, apperr.Errorf(apperr.UnsupportedDesign, "unknown design %q", p.Design).WithOperation(op)
	}
	return out, nil
}

var levelTable = [][]float64{
	2: {-1, 1},
	3: {-1, 0, 1},
	4: {-1, -1.0 / 3, 1.0 / 3, 1},
	5: {-1, -0.5, 0, 0.5, 1},
	6: {-1, -0.6, -0.2, 0.2, 0.6, 1},
	7: {-1, -2.0 / 3, -1.0 / 3, 0, 1.0 / 3, 2.0 / 3, 1},
	8: {-1, -5.0 / 7, -3.0 / 7, -1.0 / 7, 1.0 / 7, 3.0 / 7, 5.0 / 7, 1},
	9: {-1, -0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75, 1},
}

// LevelValues returns the L equally spaced normalized levels from -1 to 1.
func LevelValues(levels int) []float64 {
	if levels >= 2 && levels < len(levelTable) {
		return append([]float64(nil), levelTable[levels]...)
	}
	out := make([]float64, levels)
	for i := range out {
		out[i] = -1 + 2*float64(i)/float64(levels-1)
	}
	return out
}

// factorial enumerates L^k rows with the first variable cycling fastest.
func factorial(k, levels int) [][]float64 {
	values := LevelValues(levels)
	total := 1
	for i := 0; i < k; i++ {
		total *= levels
	}
	rows := make([][]float64, total)
	for n := range rows {
		row := make([]float64, k)
		r := n
		for j := 0; j < k; j++ {
			row[j] = values[r%levels]
			r /= levels
		}
		rows[n] = row
	}
	return rows
}

func round6(v float64) float64 {
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		return 0
	}
	return r
}

// centralComposite emits the 2^k corners, 2k axial points at ±alpha and the
// centre.
func centralComposite(k int, alpha float64) [][]float64 {
	rows := factorial(k, 2)
	for j := 0; j < k; j++ {
		for _, s := range []float64{-1, 1} {
			row := make([]float64, k)
			row[j] = round6(s * alpha)
			rows = append(rows, row)
		}
	}
	return append(rows, make([]float64, k))
}

// latinHypercube draws one stratified sample per interval in every
// dimension, shuffles each dimension independently and maps to [-1, 1].
func latinHypercube(k, n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, k)
	}
	for d := 0; d < k; d++ {
		column := make([]float64, n)
		for j := 0; j < n; j++ {
			column[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(a, b int) { column[a], column[b] = column[b], column[a] })
		for i := 0; i < n; i++ {
			rows[i][d] = -1 + 2*column[i]
		}
	}
	return rows
}
