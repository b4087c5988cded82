// Package surrogate fits polynomial and radial basis function metamodels to
// tabulated data and renders them as formulation-language expressions.
package surrogate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/surrogate/kernels"
)

// ModelKind selects the surrogate family.
type ModelKind string

const (
	Linear      ModelKind = "linear"
	Quadratic   ModelKind = "quadratic"
	Interaction ModelKind = "interaction"
	RBF         ModelKind = "rbf"
)

// ParseModelKind accepts a model name case-insensitively.
func ParseModelKind(s string) (ModelKind, error) {
	k := ModelKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case Linear, Quadratic, Interaction, RBF:
		return k, nil
	}
	return "", apperr.Errorf(apperr.InvalidArgument, "unknown surrogate model %q", s)
}

// Options configures a fit.
type Options struct {
	Kind ModelKind
	// Kernel, Epsilon and Smooth apply to RBF fits. Smooth is the Tikhonov
	// λ added to the kernel diagonal.
	Kernel  string
	Epsilon float64
	Smooth  float64
	// Names labels the inputs; default x1..xk.
	Names  []string
	Logger *zap.Logger
}

// Fit is a fitted surrogate.
type Fit struct {
	Kind         ModelKind
	Kernel       kernels.Kernel
	Terms        []Term
	Coefficients []float64
	Centres      [][]float64
	Epsilon      float64
	Smooth       float64
	Names        []string
	Stats        Statistics
}

// New fits a surrogate to rows x and responses y.
func New(x [][]float64, y []float64, opts Options) (*Fit, error) {
	const op = "surrogate.New"

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("surrogate")

	k, err := checkData(x, y)
	if err != nil {
		return nil, err.WithOperation(op)
	}
	names := opts.Names
	if len(names) == 0 {
		names = make([]string, k)
		for i := range names {
			names[i] = "x" + strconv.Itoa(i+1)
		}
	}
	if len(names) != k {
		return nil, apperr.Errorf(apperr.DimensionMismatch, "%d names for %d variables", len(names), k).WithOperation(op)
	}

	logger.Debug("fitting surrogate",
		zap.String("kind", string(opts.Kind)),
		zap.Int("samples", len(y)),
		zap.Int("variables", k),
	)

	var fit *Fit
	switch opts.Kind {
	case Linear, Quadratic, Interaction:
		fit, err = fitPolynomial(x, y, opts.Kind)
	case RBF:
		fit, err = fitRBF(x, y, opts.Kernel, opts.Epsilon, opts.Smooth)
	default:
		return nil, apperr.Errorf(apperr.InvalidArgument, "unknown surrogate model %q", opts.Kind).WithOperation(op)
	}
	if err != nil {
		return nil, err.WithOperation(op)
	}
	fit.Names = append([]string(nil), names...)

	logger.Debug("surrogate fitted",
		zap.Int("coefficients", len(fit.Coefficients)),
		zap.Float64("r2", fit.Stats.R2),
		zap.Float64("rmse", fit.Stats.RMSE),
	)
	return fit, nil
}

func checkData(x [][]float64, y []float64) (int, *apperr.Error) {
	if len(x) == 0 {
		return 0, apperr.New(apperr.DimensionMismatch, "no samples")
	}
	if len(x) != len(y) {
		return 0, apperr.Errorf(apperr.DimensionMismatch, "%d input rows but %d responses", len(x), len(y))
	}
	k := len(x[0])
	if k == 0 {
		return 0, apperr.New(apperr.DimensionMismatch, "samples have no variables")
	}
	for i, row := range x {
		if len(row) != k {
			return 0, apperr.Errorf(apperr.DimensionMismatch, "row %d has %d values, expected %d", i+1, len(row), k)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, apperr.Errorf(apperr.NumericFailure, "row %d holds a non-finite value", i+1)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return 0, apperr.Errorf(apperr.NumericFailure, "response %d is not finite", i+1)
		}
	}
	return k, nil
}

// solve factorizes a and solves a·z = b, reporting rank deficiency as
// Singular.
func solve(a *mat.Dense, b *mat.VecDense) (*mat.VecDense, *mat.LU, *apperr.Error) {
	var lu mat.LU
	lu.Factorize(a)
	if cond := lu.Cond(); math.IsInf(cond, 1) || cond > mat.ConditionTolerance {
		return nil, nil, apperr.Errorf(apperr.Singular, "design matrix is singular (condition number %g)", cond)
	}
	var z mat.VecDense
	if err := lu.SolveVecTo(&z, false, b); err != nil {
		return nil, nil, apperr.Wrap(err, apperr.Singular, "solve normal equations")
	}
	for _, v := range z.RawVector().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, apperr.New(apperr.NumericFailure, "solution is not finite")
		}
	}
	return &z, &lu, nil
}

// Eval evaluates the surrogate at x.
func (f *Fit) Eval(x []float64) (float64, error) {
	if len(x) != len(f.Names) {
		return 0, apperr.Errorf(apperr.DimensionMismatch, "point has %d values, surrogate has %d variables", len(x), len(f.Names)).WithOperation("Fit.Eval")
	}
	if f.Kind == RBF {
		return f.evalRBF(x), nil
	}
	s := 0.0
	for i, t := range f.Terms {
		s += f.Coefficients[i] * t.Eval(x)
	}
	return s, nil
}

// Expression renders the surrogate in the formulation language.
func (f *Fit) Expression() string {
	if f.Kind == RBF {
		return f.rbfExpression()
	}
	var parts []string
	for i, t := range f.Terms {
		c := f.Coefficients[i]
		if c == 0 {
			continue
		}
		parts = append(parts, product(kernels.Lit(c), t.Text(f.Names)))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " + ")
}

// Function renders "name = expression;" ready for a *FUNCTION section.
func (f *Fit) Function(name string) string {
	return fmt.Sprintf("%s = %s;", name, f.Expression())
}

func product(coef, term string) string {
	if term == "" {
		return coef
	}
	return coef + "*" + term
}
