package expr

import (
	"strconv"
	"strings"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Scope describes the names visible to an expression body.
type Scope struct {
	// Variables lists declared variable names in declaration order.
	Variables []string
	// Constants are substituted by value. Keys are lower-case.
	Constants map[string]float64
	// Functions maps lower-case function names to already bound bodies,
	// which are inlined at each reference.
	Functions map[string]Node
}

// Resolve binds one identifier. Declared variables win over constants, which
// win over functions; xN is a positional alias for variable N-1 when no
// declared name matches.
func (s Scope) Resolve(name string) (Node, bool) {
	name = strings.ToLower(name)
	for i, v := range s.Variables {
		if strings.ToLower(v) == name {
			return &Var{Name: name, Index: i}, true
		}
	}
	if v, ok := s.Constants[name]; ok {
		return N(v), true
	}
	if body, ok := s.Functions[name]; ok {
		return body, true
	}
	if idx, ok := PositionalIndex(name); ok {
		return &Var{Name: name, Index: idx}, true
	}
	if name == "pi" {
		return Pi, true
	}
	return nil, false
}

// PositionalIndex returns N-1 for identifiers of the form xN with N >= 1.
func PositionalIndex(name string) (int, bool) {
	if len(name) < 2 || (name[0] != 'x' && name[0] != 'X') {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 1 || name[1] == '+' || name[1] == '-' {
		return 0, false
	}
	return n - 1, true
}

// Bind replaces every Sym of the tree using the scope. The first identifier
// that does not resolve is reported as UnresolvedReference.
func Bind(n Node, s Scope) (Node, error) {
	switch t := n.(type) {
	case *Sym:
		r, ok := s.Resolve(t.Name)
		if !ok {
			return nil, apperr.Errorf(apperr.UnresolvedReference, "unresolved identifier %q", t.Name).WithOperation("expr.Bind")
		}
		return r, nil
	case *Neg:
		x, err := Bind(t.X, s)
		if err != nil {
			return nil, err
		}
		return &Neg{X: x}, nil
	case *Binary:
		l, err := Bind(t.L, s)
		if err != nil {
			return nil, err
		}
		r, err := Bind(t.R, s)
		if err != nil {
			return nil, err
		}
		return bin(t.Op, l, r), nil
	case *Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			b, err := Bind(a, s)
			if err != nil {
				return nil, err
			}
			args[i] = b
		}
		return call(t.Fn, args...), nil
	}
	return n, nil
}

// ParseBound parses text and binds it in one step.
func ParseBound(text string, s Scope) (Node, error) {
	n, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return Bind(n, s)
}
