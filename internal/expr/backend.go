package expr

import (
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// SymbolicBackend hides the symbolic algebra behind four operations so the
// formulation can switch evaluators without touching its own logic.
type SymbolicBackend interface {
	Differentiate(n Node, v int) Node
	Simplify(n Node) Node
	ToCallable(n Node) (Callable, error)
	ToString(n Node) string
}

// Backend names accepted by NewBackend.
const (
	BackendNative    = "native"
	BackendEvaluable = "evaluable"
)

// NewBackend returns the backend registered under name. The empty name
// selects the native backend.
func NewBackend(name string) (SymbolicBackend, error) {
	switch strings.ToLower(name) {
	case "", BackendNative:
		return Native{}, nil
	case BackendEvaluable:
		return Evaluable{}, nil
	}
	return nil, apperr.Errorf(apperr.InvalidArgument, "unknown symbolic backend %q", name)
}

// Native differentiates and simplifies the tree itself and evaluates it with
// compiled closures.
type Native struct{}

func (Native) Differentiate(n Node, v int) Node { return Diff(n, v) }
func (Native) Simplify(n Node) Node { return Simplify(n) }
func (Native) ToCallable(n Node) (Callable, error) { return Compile(n) }
func (Native) ToString(n Node) string { return String(n) }

// Evaluable shares the native symbolic operations but evaluates through
// govaluate expressions.
type Evaluable struct{}

func (Evaluable) Differentiate(n Node, v int) Node { return Diff(n, v) }
func (Evaluable) Simplify(n Node) Node { return Simplify(n) }
func (Evaluable) ToString(n Node) string { return String(n) }

// ToCallable renders the tree as a govaluate expression over parameters
// v0..vN. govaluate divides in IEEE arithmetic, so a non-finite result takes
// the place of ErrDivisionByZero in the zero-replacement retry.
func (Evaluable) ToCallable(n Node) (Callable, error) {
	const op = "Evaluable.ToCallable"

	text, err := renderEvaluable(n)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.NumericFailure, "render").WithOperation(op)
	}
	ge, err := govaluate.NewEvaluableExpressionWithFunctions(text, evaluableFunctions)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.ParseError, "govaluate %q", text).WithOperation(op)
	}
	raw := func(x []float64) (float64, error) {
		out, err := ge.Eval(vectorParameters(x))
		if err != nil {
			return 0, apperr.Wrap(err, apperr.NumericFailure, "govaluate")
		}
		v, ok := out.(float64)
		if !ok {
			return 0, apperr.Errorf(apperr.NumericFailure, "govaluate returned %T", out)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v, ErrDivisionByZero
		}
		return v, nil
	}
	return WithZeroRetry(raw), nil
}

// EvalConstant evaluates a closed-form expression with no variables through
// govaluate.
func EvalConstant(n Node) (float64, error) {
	if MaxVarIndex(n) >= 0 {
		return 0, apperr.New(apperr.InvalidArgument, "constant expression references a variable")
	}
	c, err := Evaluable{}.ToCallable(n)
	if err != nil {
		return 0, err
	}
	return c(nil)
}

// vectorParameters serves govaluate parameter lookups from a point vector.
type vectorParameters []float64

func (p vectorParameters) Get(name string) (interface{}, error) {
	idx, err := strconv.Atoi(strings.TrimPrefix(name, "v"))
	if err != nil || idx < 0 {
		return nil, apperr.Errorf(apperr.UnresolvedReference, "unknown parameter %q", name)
	}
	if idx >= len(p) {
		return nil, apperr.Errorf(apperr.DimensionMismatch, "parameter %s needs %d inputs, got %d", name, idx+1, len(p))
	}
	return p[idx], nil
}

func unaryEvaluable(f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, apperr.Errorf(apperr.InvalidArgument, "expected 1 argument, got %d", len(args))
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, apperr.Errorf(apperr.InvalidArgument, "argument of type %T", args[0])
		}
		return f(v), nil
	}
}

var evaluableFunctions = func() map[string]govaluate.ExpressionFunction {
	m := make(map[string]govaluate.ExpressionFunction, len(unaryFuncs)+1)
	for name, f := range unaryFuncs {
		m[name] = unaryEvaluable(f)
	}
	m["pow"] = func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, apperr.Errorf(apperr.InvalidArgument, "pow expects 2 arguments, got %d", len(args))
		}
		a, aok := args[0].(float64)
		b, bok := args[1].(float64)
		if !aok || !bok {
			return nil, apperr.New(apperr.InvalidArgument, "pow arguments must be numbers")
		}
		return math.Pow(a, b), nil
	}
	return m
}()

// renderEvaluable prints a fully parenthesized govaluate expression. Numbers
// are written in plain decimal because govaluate has no exponent notation.
func renderEvaluable(n Node) (string, error) {
	var b strings.Builder
	if err := renderTo(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderNumber(b *strings.Builder, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperr.Errorf(apperr.NumericFailure, "cannot render literal %v", v)
	}
	if v < 0 {
		b.WriteString("(-" + strconv.FormatFloat(-v, 'f', -1, 64) + ")")
		return nil
	}
	b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	return nil
}

func renderTo(b *strings.Builder, n Node) error {
	switch t := n.(type) {
	case *Num:
		return renderNumber(b, t.Value)
	case *Const:
		return renderNumber(b, t.Value)
	case *Var:
		b.WriteString("v" + strconv.Itoa(t.Index))
	case *Sym:
		return apperr.Errorf(apperr.UnresolvedReference, "unresolved identifier %q", t.Name)
	case *Neg:
		b.WriteString("(-")
		if err := renderTo(b, t.X); err != nil {
			return err
		}
		b.WriteByte(')')
	case *Binary:
		b.WriteByte('(')
		if err := renderTo(b, t.L); err != nil {
			return err
		}
		if t.Op == Pow {
			b.WriteString(" ** ")
		} else {
			b.WriteString(" " + t.Op.String() + " ")
		}
		if err := renderTo(b, t.R); err != nil {
			return err
		}
		b.WriteByte(')')
	case *Call:
		b.WriteString(t.Fn + "(")
		for i, a := range t.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := renderTo(b, a); err != nil {
				return err
			}
		}
		b.WriteByte(')')
	}
	return nil
}
