// Package expr parses algebraic formulation text into expression trees, binds
// identifiers to variables, constants and other functions, and produces
// numeric evaluators and symbolic derivatives.
package expr

import (
	"math"
)

// Node is an expression tree node. Trees are immutable once built; every
// transformation returns a new tree that may share unchanged subtrees.
type Node interface {
	node()
}

// Op is a binary operator.
type Op byte

const (
	Add Op = '+'
	Sub Op = '-'
	Mul Op = '*'
	Div Op = '/'
	Pow Op = '^'
)

func (o Op) String() string {
	if o == Pow {
		return "**"
	}
	return string(rune(o))
}

// Num is a numeric literal.
type Num struct {
	Value float64
}

// Const is a named mathematical constant kept symbolic, such as pi.
type Const struct {
	Name  string
	Value float64
}

// Sym is an identifier that has not been bound yet.
type Sym struct {
	Name string
}

// Var is a bound positional variable.
type Var struct {
	Name  string
	Index int
}

// Neg is a unary minus.
type Neg struct {
	X Node
}

// Binary is a binary operation.
type Binary struct {
	Op   Op
	L, R Node
}

// Call is a call of one of the builtin functions.
type Call struct {
	Fn   string
	Args []Node
}

func (*Num) node()    {}
func (*Const) node()  {}
func (*Sym) node()    {}
func (*Var) node()    {}
func (*Neg) node()    {}
func (*Binary) node() {}
func (*Call) node()   {}

// N returns a numeric literal node.
func N(v float64) *Num { return &Num{Value: v} }

// Pi is the symbolic constant pi.
var Pi = &Const{Name: "pi", Value: math.Pi}

func bin(op Op, l, r Node) *Binary { return &Binary{Op: op, L: l, R: r} }

func call(fn string, args ...Node) *Call { return &Call{Fn: fn, Args: args} }

// builtins maps each supported function name to its arity.
var builtins = map[string]int{
	"abs":   1,
	"pow":   2,
	"log":   1,
	"ln":    1,
	"sin":   1,
	"cos":   1,
	"tan":   1,
	"asin":  1,
	"acos":  1,
	"atan":  1,
	"sinh":  1,
	"cosh":  1,
	"tanh":  1,
	"sqrt":  1,
	"ceil":  1,
	"floor": 1,
	"exp":   1,
	"sign":  1,
}

// IsBuiltin reports whether name is a supported function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// Walk calls fn for every node of the tree in pre-order. Returning false
// from fn skips the children of that node.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	switch t := n.(type) {
	case *Neg:
		Walk(t.X, fn)
	case *Binary:
		Walk(t.L, fn)
		Walk(t.R, fn)
	case *Call:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	}
}

// Symbols returns the distinct unbound identifiers of the tree in order of
// first appearance.
func Symbols(n Node) []string {
	seen := map[string]bool{}
	var out []string
	Walk(n, func(n Node) bool {
		if s, ok := n.(*Sym); ok && !seen[s.Name] {
			seen[s.Name] = true
			out = append(out, s.Name)
		}
		return true
	})
	return out
}

// dependsOn reports whether the tree references variable index v.
func dependsOn(n Node, v int) bool {
	found := false
	Walk(n, func(n Node) bool {
		if found {
			return false
		}
		if x, ok := n.(*Var); ok && x.Index == v {
			found = true
		}
		return !found
	})
	return found
}

// MaxVarIndex returns the largest bound variable index in the tree, or -1.
func MaxVarIndex(n Node) int {
	max := -1
	Walk(n, func(n Node) bool {
		if x, ok := n.(*Var); ok && x.Index > max {
			max = x.Index
		}
		return true
	})
	return max
}

// Equal reports structural equality of two trees.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case *Num:
		y, ok := b.(*Num)
		return ok && (x.Value == y.Value || (math.IsNaN(x.Value) && math.IsNaN(y.Value)))
	case *Const:
		y, ok := b.(*Const)
		return ok && x.Name == y.Name
	case *Sym:
		y, ok := b.(*Sym)
		return ok && x.Name == y.Name
	case *Var:
		y, ok := b.(*Var)
		return ok && x.Index == y.Index
	case *Neg:
		y, ok := b.(*Neg)
		return ok && Equal(x.X, y.X)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.L, y.L) && Equal(x.R, y.R)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Fn != y.Fn || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	}
	return false
}
