package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Canonicalize lowercases text, rewrites ^ as ** and strips line breaks.
func Canonicalize(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "^", "**")
	text = strings.ReplaceAll(text, "\r", "")
	return strings.ReplaceAll(text, "\n", "")
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					for j < len(src) && isDigit(src[j]) {
						j++
					}
					i = j
				}
			}
			v, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, apperr.Errorf(apperr.ParseError, "bad number %q at column %d", src[start:i], start+1)
			}
			toks = append(toks, token{kind: tokNum, text: src[start:i], num: v, pos: start})
		case c == '_' || unicode.IsLetter(rune(c)):
			start := i
			for i < len(src) && (src[i] == '_' || isDigit(src[i]) || unicode.IsLetter(rune(src[i]))) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		case c == '*':
			if i+1 < len(src) && src[i+1] == '*' {
				toks = append(toks, token{kind: tokOp, text: "**", pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokOp, text: "*", pos: i})
				i++
			}
		case c == '^':
			toks = append(toks, token{kind: tokOp, text: "**", pos: i})
			i++
		case c == '+' || c == '-' || c == '/':
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, apperr.Errorf(apperr.ParseError, "unexpected character %q at column %d", c, i+1)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type parser struct {
	src  string
	toks []token
	pos  int
}

// Parse canonicalizes and parses an expression. Identifiers other than
// builtin calls and pi are left as unbound Sym nodes; see Bind.
func Parse(text string) (Node, error) {
	const op = "expr.Parse"

	src := Canonicalize(text)
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, apperr.New(apperr.ParseError, "empty expression").WithOperation(op)
	}
	n, err := p.expr()
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.ParseError, "%q", strings.TrimSpace(text)).WithOperation(op)
	}
	if t := p.peek(); t.kind != tokEOF {
		if t.kind == tokRParen {
			return nil, apperr.Errorf(apperr.ParseError, "unbalanced parentheses in %q: unmatched ')' at column %d", strings.TrimSpace(text), t.pos+1).WithOperation(op)
		}
		return nil, apperr.Errorf(apperr.ParseError, "unexpected %q at column %d in %q", t.text, t.pos+1, strings.TrimSpace(text)).WithOperation(op)
	}
	return n, nil
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(text string) Node {
	n, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return n
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(s string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == s
}

func (p *parser) expr() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		o := Add
		if p.next().text == "-" {
			o = Sub
		}
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = bin(o, left, right)
	}
	return left, nil
}

func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") {
		o := Mul
		if p.next().text == "/" {
			o = Div
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = bin(o, left, right)
	}
	return left, nil
}

func (p *parser) unary() (Node, error) {
	if p.isOp("-") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Neg{X: x}, nil
	}
	if p.isOp("+") {
		p.next()
		return p.unary()
	}
	return p.power()
}

// power binds tighter than a unary minus on its left and is right
// associative: -a**-b**c parses as -(a**(-(b**c))).
func (p *parser) power() (Node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if p.isOp("**") {
		p.next()
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return bin(Pow, base, exp), nil
	}
	return base, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return N(t.num), nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		if t.text == "pi" {
			return Pi, nil
		}
		return &Sym{Name: t.text}, nil
	case tokLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("unbalanced parentheses: '(' at column %d is never closed", t.pos+1)
		}
		p.next()
		return n, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at column %d", t.text, t.pos+1)
}

func (p *parser) call(name token) (Node, error) {
	arity, ok := builtins[name.text]
	if !ok {
		return nil, apperr.Errorf(apperr.UnresolvedReference, "unknown function %q", name.text)
	}
	open := p.next()
	var args []Node
	if p.peek().kind != tokRParen {
		for {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.peek().kind != tokRParen {
		return nil, fmt.Errorf("unbalanced parentheses: '(' at column %d is never closed", open.pos+1)
	}
	p.next()
	if len(args) != arity {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", name.text, arity, len(args))
	}
	return call(name.text, args...), nil
}
