package slsqp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// quadProgram is
//
//	minimize   ½ zᵀHz + qᵀz
//	subject to a_iᵀz = b_i  for i < nEq
//	           a_iᵀz ≥ b_i  otherwise
//
// with H positive definite.
type quadProgram struct {
	H   *mat.Dense
	q   []float64
	A   [][]float64
	b   []float64
	nEq int
}

type quadSolution struct {
	z          []float64
	lambda     []float64
	iterations int
}

// independent keeps an orthonormal basis of the accepted working rows.
type independent struct {
	basis [][]float64
}

func (s *independent) accept(row []float64) bool {
	norm := floats.Norm(row, 2)
	if norm < 1e-14 {
		return false
	}
	r := append([]float64(nil), row...)
	for _, q := range s.basis {
		floats.AddScaled(r, -floats.Dot(q, r), q)
	}
	rn := floats.Norm(r, 2)
	if rn <= 1e-10*norm {
		return false
	}
	floats.Scale(1/rn, r)
	s.basis = append(s.basis, r)
	return true
}

// solveQP runs a primal active-set method from the feasible point z0.
func solveQP(p quadProgram, z0 []float64, maxIter int) (*quadSolution, error) {
	const op = "slsqp.solveQP"

	n, m := len(p.q), len(p.A)
	z := append([]float64(nil), z0...)
	inW := make([]bool, m)
	var working []int

	var eqBasis independent
	for i := 0; i < p.nEq; i++ {
		if eqBasis.accept(p.A[i]) {
			working = append(working, i)
			inW[i] = true
		}
	}

	gz := make([]float64, n)
	// after an unblocked full step z minimizes over the working set
	stationary := false
	for iter := 1; iter <= maxIter; iter++ {
		hz := mat.NewVecDense(n, nil)
		hz.MulVec(p.H, mat.NewVecDense(n, z))
		floats.AddTo(gz, hz.RawVector().Data, p.q)

		step, mu, err := equalityStep(p.H, gz, p.A, working)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.Singular, "QP working set").WithOperation(op)
		}

		if stationary || floats.Norm(step, math.Inf(1)) <= 1e-12*(1+floats.Norm(z, math.Inf(1))) {
			drop, worst := -1, -1e-12
			for k, i := range working {
				if i >= p.nEq && -mu[k] < worst {
					drop, worst = k, -mu[k]
				}
			}
			if drop < 0 {
				lambda := make([]float64, m)
				for k, i := range working {
					lambda[i] = -mu[k]
				}
				return &quadSolution{z: z, lambda: lambda, iterations: iter}, nil
			}
			inW[working[drop]] = false
			working = append(working[:drop], working[drop+1:]...)
			stationary = false
			continue
		}

		alpha, block := 1.0, -1
		for i := p.nEq; i < m; i++ {
			if inW[i] {
				continue
			}
			ap := floats.Dot(p.A[i], step)
			if ap >= -1e-14 {
				continue
			}
			slack := math.Max(0, floats.Dot(p.A[i], z)-p.b[i])
			if t := slack / -ap; t < alpha {
				alpha, block = t, i
			}
		}
		floats.AddScaled(z, alpha, step)
		stationary = block < 0
		if block >= 0 {
			working = append(working, block)
			inW[block] = true
		}
	}
	return nil, apperr.Errorf(apperr.NumericFailure, "QP subproblem did not converge in %d iterations", maxIter).WithOperation(op)
}

// equalityStep solves
//
//	[H   A_Wᵀ] [p ]   [-g]
//	[A_W  0  ] [mu] = [ 0]
func equalityStep(h *mat.Dense, g []float64, a [][]float64, working []int) ([]float64, []float64, error) {
	n, w := len(g), len(working)
	kkt := mat.NewDense(n+w, n+w, nil)
	kkt.Slice(0, n, 0, n).(*mat.Dense).Copy(h)
	for k, i := range working {
		for j, v := range a[i] {
			kkt.Set(n+k, j, v)
			kkt.Set(j, n+k, v)
		}
	}
	rhs := mat.NewVecDense(n+w, nil)
	for j, v := range g {
		rhs.SetVec(j, -v)
	}

	var lu mat.LU
	lu.Factorize(kkt)
	if math.IsInf(lu.Cond(), 1) {
		return nil, nil, mat.ErrSingular
	}
	var sol mat.VecDense
	if err := lu.SolveVecTo(&sol, false, rhs); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, nil, err
		}
	}
	data := sol.RawVector().Data
	return append([]float64(nil), data[:n]...), append([]float64(nil), data[n:]...), nil
}
