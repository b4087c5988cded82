package expr

import (
	"math"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// ZeroReplacement is substituted for every zero input component when an
// evaluation divides by zero.
const ZeroReplacement = 1e-15

// ErrDivisionByZero is returned for x/0 and 0**negative.
var ErrDivisionByZero = apperr.New(apperr.NumericFailure, "division by zero")

// Callable evaluates a compiled expression at a point.
type Callable func(x []float64) (float64, error)

type evalFn func(x []float64) (float64, error)

// Compile turns a bound tree into a Callable. The returned Callable applies
// the zero-division policy: on ErrDivisionByZero it re-evaluates once with
// zero components replaced by ZeroReplacement.
func Compile(n Node) (Callable, error) {
	fn, err := compile(n)
	if err != nil {
		return nil, err
	}
	return WithZeroRetry(fn), nil
}

// WithZeroRetry wraps a raw evaluator with the zero-division retry and the
// non-finite result check.
func WithZeroRetry(fn func(x []float64) (float64, error)) Callable {
	return func(x []float64) (float64, error) {
		v, err := fn(x)
		if err == ErrDivisionByZero {
			v, err = fn(replaceZeros(x))
		}
		if err != nil {
			return 0, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, apperr.Errorf(apperr.NumericFailure, "expression evaluated to %v", v)
		}
		return v, nil
	}
}

func replaceZeros(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v == 0 {
			v = ZeroReplacement
		}
		out[i] = v
	}
	return out
}

func compile(n Node) (evalFn, error) {
	switch t := n.(type) {
	case *Num:
		v := t.Value
		return func([]float64) (float64, error) { return v, nil }, nil
	case *Const:
		v := t.Value
		return func([]float64) (float64, error) { return v, nil }, nil
	case *Var:
		idx, name := t.Index, t.Name
		return func(x []float64) (float64, error) {
			if idx >= len(x) {
				return 0, apperr.Errorf(apperr.DimensionMismatch, "variable %s needs %d inputs, got %d", name, idx+1, len(x))
			}
			return x[idx], nil
		}, nil
	case *Sym:
		return nil, apperr.Errorf(apperr.UnresolvedReference, "unresolved identifier %q", t.Name).WithOperation("expr.Compile")
	case *Neg:
		x, err := compile(t.X)
		if err != nil {
			return nil, err
		}
		return func(in []float64) (float64, error) {
			v, err := x(in)
			return -v, err
		}, nil
	case *Binary:
		return compileBinary(t)
	case *Call:
		return compileCall(t)
	}
	return nil, apperr.Errorf(apperr.ParseError, "unknown node %T", n)
}

func compileBinary(t *Binary) (evalFn, error) {
	l, err := compile(t.L)
	if err != nil {
		return nil, err
	}
	r, err := compile(t.R)
	if err != nil {
		return nil, err
	}
	var f func(a, b float64) (float64, error)
	switch t.Op {
	case Add:
		f = func(a, b float64) (float64, error) { return a + b, nil }
	case Sub:
		f = func(a, b float64) (float64, error) { return a - b, nil }
	case Mul:
		f = func(a, b float64) (float64, error) { return a * b, nil }
	case Div:
		f = func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a / b, nil
		}
	case Pow:
		f = power
	default:
		return nil, apperr.Errorf(apperr.ParseError, "unknown operator %q", t.Op)
	}
	return func(x []float64) (float64, error) {
		a, err := l(x)
		if err != nil {
			return 0, err
		}
		b, err := r(x)
		if err != nil {
			return 0, err
		}
		return f(a, b)
	}, nil
}

func power(a, b float64) (float64, error) {
	if a == 0 && b < 0 {
		return 0, ErrDivisionByZero
	}
	if a < 0 && b != math.Trunc(b) {
		return 0, apperr.Errorf(apperr.NumericFailure, "negative base %g raised to fractional power %g", a, b)
	}
	return math.Pow(a, b), nil
}

var unaryFuncs = map[string]func(float64) float64{
	"abs":   math.Abs,
	"log":   math.Log,
	"ln":    math.Log,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"sinh":  math.Sinh,
	"cosh":  math.Cosh,
	"tanh":  math.Tanh,
	"sqrt":  math.Sqrt,
	"ceil":  math.Ceil,
	"floor": math.Floor,
	"exp":   math.Exp,
	"sign":  sign,
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// checkDomain rejects a NaN result, or an infinite one from a finite argument.
func checkDomain(fn string, arg, v float64) error {
	if math.IsNaN(v) || (math.IsInf(v, 0) && !math.IsInf(arg, 0)) {
		return apperr.Errorf(apperr.NumericFailure, "%s(%g) overflows or is outside the function domain", fn, arg)
	}
	return nil
}

func compileCall(t *Call) (evalFn, error) {
	args := make([]evalFn, len(t.Args))
	for i, a := range t.Args {
		f, err := compile(a)
		if err != nil {
			return nil, err
		}
		args[i] = f
	}
	if t.Fn == "pow" {
		a, b := args[0], args[1]
		return func(x []float64) (float64, error) {
			u, err := a(x)
			if err != nil {
				return 0, err
			}
			v, err := b(x)
			if err != nil {
				return 0, err
			}
			return power(u, v)
		}, nil
	}
	f, ok := unaryFuncs[t.Fn]
	if !ok || len(args) != 1 {
		return nil, apperr.Errorf(apperr.UnresolvedReference, "unknown function %q", t.Fn)
	}
	a, name := args[0], t.Fn
	return func(x []float64) (float64, error) {
		u, err := a(x)
		if err != nil {
			return 0, err
		}
		v := f(u)
		if err := checkDomain(name, u, v); err != nil {
			return 0, err
		}
		return v, nil
	}, nil
}

// Eval compiles and evaluates a bound tree once.
func Eval(n Node, x []float64) (float64, error) {
	c, err := Compile(n)
	if err != nil {
		return 0, err
	}
	return c(x)
}
