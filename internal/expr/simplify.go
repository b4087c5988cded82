package expr

import "math"

// Simplify folds constant subtrees and removes additive and multiplicative
// identities. It never changes the value of a finite evaluation.
func Simplify(n Node) Node {
	switch t := n.(type) {
	case *Neg:
		return simplifyNeg(Simplify(t.X))
	case *Binary:
		return simplifyBinary(t.Op, Simplify(t.L), Simplify(t.R))
	case *Call:
		args := make([]Node, len(t.Args))
		allNum := true
		for i, a := range t.Args {
			args[i] = Simplify(a)
			if _, ok := args[i].(*Num); !ok {
				allNum = false
			}
		}
		c := call(t.Fn, args...)
		if allNum {
			if v, err := Eval(c, nil); err == nil {
				return N(v)
			}
		}
		return c
	}
	return n
}

func num(n Node) (float64, bool) {
	if x, ok := n.(*Num); ok {
		return x.Value, true
	}
	return 0, false
}

func isNum(n Node, v float64) bool {
	x, ok := num(n)
	return ok && x == v
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func simplifyNeg(x Node) Node {
	switch t := x.(type) {
	case *Num:
		return N(-t.Value)
	case *Neg:
		return t.X
	}
	return &Neg{X: x}
}

func simplifyBinary(op Op, l, r Node) Node {
	_, lnum := num(l)
	_, rnum := num(r)
	if lnum && rnum {
		if v, err := Eval(bin(op, l, r), nil); err == nil && finite(v) {
			return N(v)
		}
	}

	switch op {
	case Add:
		switch {
		case isNum(l, 0):
			return r
		case isNum(r, 0):
			return l
		}
		if neg, ok := r.(*Neg); ok {
			return simplifyBinary(Sub, l, neg.X)
		}
		if b, ok := num(r); ok && b < 0 {
			return bin(Sub, l, N(-b))
		}
		if neg, ok := l.(*Neg); ok {
			return simplifyBinary(Sub, r, neg.X)
		}
		if Equal(l, r) {
			return simplifyBinary(Mul, N(2), l)
		}
	case Sub:
		switch {
		case isNum(r, 0):
			return l
		case isNum(l, 0):
			return simplifyNeg(r)
		case Equal(l, r):
			return N(0)
		}
		if neg, ok := r.(*Neg); ok {
			return simplifyBinary(Add, l, neg.X)
		}
		if b, ok := num(r); ok && b < 0 {
			return bin(Add, l, N(-b))
		}
	case Mul:
		switch {
		case isNum(l, 0) || isNum(r, 0):
			return N(0)
		case isNum(l, 1):
			return r
		case isNum(r, 1):
			return l
		case isNum(l, -1):
			return simplifyNeg(r)
		case isNum(r, -1):
			return simplifyNeg(l)
		}
		// keep numeric factors on the left and merge c1*(c2*x)
		if rnum && !lnum {
			return simplifyBinary(Mul, r, l)
		}
		if a, ok := num(l); ok {
			if inner, ok := r.(*Binary); ok && inner.Op == Mul {
				if b, ok := num(inner.L); ok && finite(a*b) {
					return simplifyBinary(Mul, N(a*b), inner.R)
				}
			}
		}
		if nl, ok := l.(*Neg); ok {
			return simplifyNeg(simplifyBinary(Mul, nl.X, r))
		}
		if nr, ok := r.(*Neg); ok {
			return simplifyNeg(simplifyBinary(Mul, l, nr.X))
		}
		if Equal(l, r) {
			return simplifyBinary(Pow, l, N(2))
		}
	case Div:
		switch {
		case isNum(l, 0) && !isNum(r, 0):
			return N(0)
		case isNum(r, 1):
			return l
		case isNum(r, -1):
			return simplifyNeg(l)
		case Equal(l, r) && !isNum(r, 0):
			return N(1)
		}
		if nl, ok := l.(*Neg); ok {
			return simplifyNeg(simplifyBinary(Div, nl.X, r))
		}
	case Pow:
		switch {
		case isNum(r, 0):
			return N(1)
		case isNum(r, 1):
			return l
		case isNum(l, 1):
			return N(1)
		}
		if b, ok := num(r); ok && b > 0 && isNum(l, 0) {
			return N(0)
		}
		// (u**a)**b with numeric a and b
		if inner, ok := l.(*Binary); ok && inner.Op == Pow {
			a, aok := num(inner.R)
			b, bok := num(r)
			if aok && bok && b == math.Trunc(b) {
				return simplifyBinary(Pow, inner.L, N(a*b))
			}
		}
	}
	return bin(op, l, r)
}
