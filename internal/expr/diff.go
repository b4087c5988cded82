package expr

// Diff returns the partial derivative of a bound tree with respect to
// variable index v. Like an automatic canonical form, zero and unit factors
// are dropped while the tree is built; everything else is left to Simplify.
// Unbound symbols are treated as constants.
func Diff(n Node, v int) Node {
	switch t := n.(type) {
	case *Num, *Const, *Sym:
		return N(0)
	case *Var:
		if t.Index == v {
			return N(1)
		}
		return N(0)
	case *Neg:
		return neg(Diff(t.X, v))
	case *Binary:
		return diffBinary(t, v)
	case *Call:
		return diffCall(t, v)
	}
	return N(0)
}

func diffBinary(t *Binary, v int) Node {
	l, r := t.L, t.R
	switch t.Op {
	case Add:
		return add(Diff(l, v), Diff(r, v))
	case Sub:
		return sub(Diff(l, v), Diff(r, v))
	case Mul:
		return add(mul(Diff(l, v), r), mul(l, Diff(r, v)))
	case Div:
		top := sub(mul(Diff(l, v), r), mul(l, Diff(r, v)))
		return div(top, pow(r, N(2)))
	case Pow:
		return diffPow(l, r, v)
	}
	return N(0)
}

func diffPow(base, exp Node, v int) Node {
	switch {
	case !dependsOn(exp, v):
		// d(u**c) = c*u**(c-1)*u'
		return mul(mul(exp, pow(base, sub(exp, N(1)))), Diff(base, v))
	case !dependsOn(base, v):
		// d(c**w) = c**w*ln(c)*w'
		return mul(mul(pow(base, exp), call("log", base)), Diff(exp, v))
	}
	// d(u**w) = u**w*(w'*ln(u) + w*u'/u)
	inner := bin(Add,
		mul(Diff(exp, v), call("log", base)),
		div(mul(exp, Diff(base, v)), base))
	return mul(pow(base, exp), inner)
}

func diffCall(t *Call, v int) Node {
	if t.Fn == "pow" {
		return diffPow(t.Args[0], t.Args[1], v)
	}
	u := t.Args[0]
	du := Diff(u, v)
	var outer Node
	switch t.Fn {
	case "abs":
		outer = call("sign", u)
	case "log", "ln":
		return div(du, u)
	case "sin":
		outer = call("cos", u)
	case "cos":
		outer = neg(call("sin", u))
	case "tan":
		return div(du, pow(call("cos", u), N(2)))
	case "asin":
		return div(du, call("sqrt", sub(N(1), pow(u, N(2)))))
	case "acos":
		return neg(div(du, call("sqrt", sub(N(1), pow(u, N(2))))))
	case "atan":
		return div(du, add(N(1), pow(u, N(2))))
	case "sinh":
		outer = call("cosh", u)
	case "cosh":
		outer = call("sinh", u)
	case "tanh":
		return div(du, pow(call("cosh", u), N(2)))
	case "sqrt":
		return div(du, mul(N(2), call("sqrt", u)))
	case "exp":
		outer = call("exp", u)
	default:
		// sign, ceil and floor are piecewise constant
		return N(0)
	}
	return mul(outer, du)
}

func neg(x Node) Node {
	if isNum(x, 0) {
		return x
	}
	return &Neg{X: x}
}

func add(a, b Node) Node {
	switch {
	case isNum(a, 0):
		return b
	case isNum(b, 0):
		return a
	}
	return bin(Add, a, b)
}

func sub(a, b Node) Node {
	if x, ok := num(a); ok {
		if y, ok := num(b); ok {
			return N(x - y)
		}
	}
	switch {
	case isNum(b, 0):
		return a
	case isNum(a, 0):
		return neg(b)
	}
	return bin(Sub, a, b)
}

func mul(a, b Node) Node {
	if x, ok := num(a); ok {
		if y, ok := num(b); ok {
			return N(x * y)
		}
	}
	switch {
	case isNum(a, 0) || isNum(b, 0):
		return N(0)
	case isNum(a, 1):
		return b
	case isNum(b, 1):
		return a
	}
	return bin(Mul, a, b)
}

func div(a, b Node) Node {
	switch {
	case isNum(a, 0):
		return N(0)
	case isNum(b, 1):
		return a
	}
	return bin(Div, a, b)
}

func pow(a, b Node) Node {
	if isNum(b, 1) {
		return a
	}
	return bin(Pow, a, b)
}
