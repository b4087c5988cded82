package surrogate

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/surrogate/kernels"
)

// DefaultEpsilon is the shape parameter used when none is given.
const DefaultEpsilon = 1.0

// fitRBF solves the interpolation system
//
//	[Φ+λI  P] [w]   [y]
//	[Pᵀ    0] [a] = [0]
//
// where P = [1 x] is present only for kernels that need a polynomial tail.
func fitRBF(x [][]float64, y []float64, kernelName string, epsilon, smooth float64) (*Fit, *apperr.Error) {
	if epsilon == 0 {
		epsilon = DefaultEpsilon
	}
	if smooth < 0 || math.IsNaN(smooth) {
		return nil, apperr.Errorf(apperr.InvalidArgument, "smoothing must be non-negative, got %v", smooth)
	}
	kernel, err := kernels.New(kernelName, epsilon)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.InvalidArgument, "")
	}

	n, k := len(x), len(x[0])
	tail := 0
	if kernel.Augmented() {
		tail = k + 1
	}
	size := n + tail

	// row i of [Φ P] without smoothing, reused for the hat diagonal
	basis := mat.NewDense(n, size, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			basis.Set(i, j, kernel.Eval(floats.Distance(x[i], x[j], 2)))
		}
		if tail > 0 {
			basis.Set(i, n, 1)
			for d := 0; d < k; d++ {
				basis.Set(i, n+1+d, x[i][d])
			}
		}
	}

	system := mat.NewDense(size, size, nil)
	system.Slice(0, n, 0, size).(*mat.Dense).Copy(basis)
	for i := 0; i < n; i++ {
		system.Set(i, i, system.At(i, i)+smooth)
		for j := n; j < size; j++ {
			system.Set(j, i, basis.At(i, j))
		}
	}

	rhs := mat.NewVecDense(size, nil)
	for i, v := range y {
		rhs.SetVec(i, v)
	}
	coef, lu, serr := solve(system, rhs)
	if serr != nil {
		return nil, serr
	}

	hat := make([]float64, n)
	unit := mat.NewVecDense(size, nil)
	var z mat.VecDense
	for i := 0; i < n; i++ {
		unit.SetVec(i, 1)
		if lu.SolveVecTo(&z, false, unit) == nil {
			hat[i] = mat.Dot(basis.RowView(i), &z)
		}
		unit.SetVec(i, 0)
	}

	var fitted mat.VecDense
	fitted.MulVec(basis, coef)

	centres := make([][]float64, n)
	for i, row := range x {
		centres[i] = append([]float64(nil), row...)
	}
	return &Fit{
		Kind:         RBF,
		Kernel:       kernel,
		Coefficients: coef.RawVector().Data,
		Centres:      centres,
		Epsilon:      epsilon,
		Smooth:       smooth,
		Stats:        computeStatistics(y, fitted.RawVector().Data, hat, size),
	}, nil
}

func (f *Fit) evalRBF(x []float64) float64 {
	n := len(f.Centres)
	s := 0.0
	for i, c := range f.Centres {
		s += f.Coefficients[i] * f.Kernel.Eval(floats.Distance(x, c, 2))
	}
	if len(f.Coefficients) > n {
		s += f.Coefficients[n]
		for d, v := range x {
			s += f.Coefficients[n+1+d] * v
		}
	}
	return s
}

func (f *Fit) rbfExpression() string {
	n := len(f.Centres)
	var parts []string
	for i, c := range f.Centres {
		w := f.Coefficients[i]
		if w == 0 {
			continue
		}
		dist := make([]string, len(c))
		for d, v := range c {
			dist[d] = "(" + f.Names[d] + " - " + kernels.Lit(v) + ")**2"
		}
		parts = append(parts, kernels.Lit(w)+"*"+f.Kernel.Expr(strings.Join(dist, " + ")))
	}
	if len(f.Coefficients) > n {
		if a := f.Coefficients[n]; a != 0 {
			parts = append(parts, kernels.Lit(a))
		}
		for d, name := range f.Names {
			if a := f.Coefficients[n+1+d]; a != 0 {
				parts = append(parts, kernels.Lit(a)+"*"+name)
			}
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " + ")
}
