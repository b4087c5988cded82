package surrogate

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Term is a monomial given by the exponent of each variable.
type Term struct {
	Powers []int
}

// Eval computes the monomial at x.
func (t Term) Eval(x []float64) float64 {
	v := 1.0
	for i, p := range t.Powers {
		for j := 0; j < p; j++ {
			v *= x[i]
		}
	}
	return v
}

// Text renders the monomial with the given variable names; the constant
// term renders empty.
func (t Term) Text(names []string) string {
	var factors []string
	for i, p := range t.Powers {
		switch {
		case p == 1:
			factors = append(factors, names[i])
		case p > 1:
			factors = append(factors, names[i]+"**"+strconv.Itoa(p))
		}
	}
	return strings.Join(factors, "*")
}

// PolynomialTerms lists the monomials of a model over k variables:
// the intercept, the linear terms, then squares, then pairwise products.
func PolynomialTerms(kind ModelKind, k int) []Term {
	mono := func(set map[int]int) Term {
		p := make([]int, k)
		for i, e := range set {
			p[i] = e
		}
		return Term{Powers: p}
	}
	terms := []Term{mono(nil)}
	for i := 0; i < k; i++ {
		terms = append(terms, mono(map[int]int{i: 1}))
	}
	if kind == Linear {
		return terms
	}
	for i := 0; i < k; i++ {
		terms = append(terms, mono(map[int]int{i: 2}))
	}
	if kind == Quadratic {
		return terms
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			terms = append(terms, mono(map[int]int{i: 1, j: 1}))
		}
	}
	return terms
}

// fitPolynomial solves the normal equations (XᵀX)β = Xᵀy.
func fitPolynomial(x [][]float64, y []float64, kind ModelKind) (*Fit, *apperr.Error) {
	n, k := len(x), len(x[0])
	terms := PolynomialTerms(kind, k)
	p := len(terms)
	if n < p {
		return nil, apperr.Errorf(apperr.Singular, "%s model needs at least %d samples, got %d", kind, p, n)
	}

	design := mat.NewDense(n, p, nil)
	for i, row := range x {
		for j, t := range terms {
			design.Set(i, j, t.Eval(row))
		}
	}
	yv := mat.NewVecDense(n, append([]float64(nil), y...))

	var xtx mat.Dense
	xtx.Mul(design.T(), design)
	var xty mat.VecDense
	xty.MulVec(design.T(), yv)

	beta, lu, err := solve(&xtx, &xty)
	if err != nil {
		return nil, err
	}

	// hat diagonal h_ii = x_iᵀ (XᵀX)⁻¹ x_i
	hat := make([]float64, n)
	var z mat.VecDense
	for i := 0; i < n; i++ {
		row := mat.NewVecDense(p, mat.Row(nil, i, design))
		if lu.SolveVecTo(&z, false, row) == nil {
			hat[i] = mat.Dot(row, &z)
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(design, beta)

	return &Fit{
		Kind:         kind,
		Terms:        terms,
		Coefficients: beta.RawVector().Data,
		Stats:        computeStatistics(y, fitted.RawVector().Data, hat, p),
	}, nil
}
