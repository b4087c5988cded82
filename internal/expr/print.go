package expr

import (
	"math"
	"strconv"
	"strings"
)

const (
	precAdd = iota + 1
	precMul
	precUnary
	precPow
	precAtom
)

func precedence(n Node) int {
	switch t := n.(type) {
	case *Num:
		if t.Value < 0 || math.Signbit(t.Value) {
			return precUnary
		}
	case *Neg:
		return precUnary
	case *Binary:
		switch t.Op {
		case Add, Sub:
			return precAdd
		case Mul, Div:
			return precMul
		case Pow:
			return precPow
		}
	}
	return precAtom
}

// String renders a tree in formulation syntax with the minimum parentheses
// needed to parse back to the same tree.
func String(n Node) string {
	var b strings.Builder
	write(&b, n)
	return b.String()
}

// FormatNumber prints a literal with the shortest representation that
// parses back to the same float64.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeParen(b *strings.Builder, n Node, paren bool) {
	if paren {
		b.WriteByte('(')
	}
	write(b, n)
	if paren {
		b.WriteByte(')')
	}
}

func write(b *strings.Builder, n Node) {
	switch t := n.(type) {
	case *Num:
		b.WriteString(FormatNumber(t.Value))
	case *Const:
		b.WriteString(t.Name)
	case *Sym:
		b.WriteString(t.Name)
	case *Var:
		b.WriteString(t.Name)
	case *Neg:
		b.WriteByte('-')
		writeParen(b, t.X, precedence(t.X) < precUnary)
	case *Binary:
		p := precedence(t)
		switch t.Op {
		case Add, Sub:
			writeParen(b, t.L, precedence(t.L) < p)
			b.WriteString(" " + t.Op.String() + " ")
			writeParen(b, t.R, precedence(t.R) <= p)
		case Mul, Div:
			writeParen(b, t.L, precedence(t.L) < p)
			b.WriteString(t.Op.String())
			writeParen(b, t.R, precedence(t.R) <= p)
		case Pow:
			writeParen(b, t.L, precedence(t.L) <= p)
			b.WriteString("**")
			writeParen(b, t.R, precedence(t.R) < precUnary)
		}
	case *Call:
		b.WriteString(t.Fn)
		b.WriteByte('(')
		for i, a := range t.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			write(b, a)
		}
		b.WriteByte(')')
	}
}
