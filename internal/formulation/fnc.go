package formulation

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/expr"
)

type sectionKind int

const (
	secVariable sectionKind = iota
	secConstant
	secObjective
	secEquality
	secInequality
	secFunction
	secGradient
)

var sectionKeywords = map[string]sectionKind{
	"VARIABLE":              secVariable,
	"CONSTANT":              secConstant,
	"OBJECTIVE":             secObjective,
	"EQUALITY-CONSTRAINT":   secEquality,
	"INEQUALITY-CONSTRAINT": secInequality,
	"FUNCTION":              secFunction,
	"GRADIENT":              secGradient,
}

type entry struct {
	line int
	text string
}

type section struct {
	kind    sectionKind
	keyword string
	line    int
	count   int // -1 reads until the next header
	entries []entry
}

func (s *section) full() bool { return s.count >= 0 && len(s.entries) >= s.count }

func parseHeader(line string, lineNo int) (*section, error) {
	head := strings.TrimSpace(strings.TrimPrefix(line, "*"))
	count := -1
	if i := strings.Index(head, ":"); i >= 0 {
		n, err := strconv.Atoi(strings.TrimSpace(head[i+1:]))
		if err != nil || n < 0 {
			return nil, apperr.Errorf(apperr.ParseError, "line %d: bad entry count in header %q", lineNo, line)
		}
		count = n
		head = strings.TrimSpace(head[:i])
	}
	keyword := strings.ReplaceAll(strings.ToUpper(head), "_", "-")
	kind, ok := sectionKeywords[keyword]
	if !ok {
		kind, ok = sectionKeywords[strings.TrimSuffix(keyword, "S")]
		keyword = strings.TrimSuffix(keyword, "S")
	}
	if !ok {
		return nil, apperr.Errorf(apperr.ParseError, "line %d: unknown section %q", lineNo, line)
	}
	return &section{kind: kind, keyword: keyword, line: lineNo, count: count}, nil
}

// scan splits .fnc text into sections of raw entries. Variable entries are
// one per line; every other entry ends with a semicolon and may span lines.
func scan(text string) ([]*section, error) {
	var (
		sections []*section
		cur      *section
		pending  strings.Builder
		pendLine int
	)

	closeSection := func() error {
		if cur == nil {
			return nil
		}
		if strings.TrimSpace(pending.String()) != "" {
			return apperr.Errorf(apperr.ParseError, "line %d: *%s entry is missing its terminating ';'", pendLine, cur.keyword)
		}
		if cur.count >= 0 && len(cur.entries) != cur.count {
			return apperr.Errorf(apperr.ParseError, "line %d: *%s declares %d entries, found %d", cur.line, cur.keyword, cur.count, len(cur.entries))
		}
		sections = append(sections, cur)
		return nil
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "*") {
			if err := closeSection(); err != nil {
				return nil, err
			}
			s, err := parseHeader(line, lineNo)
			if err != nil {
				return nil, err
			}
			cur = s
			pending.Reset()
			continue
		}

		if cur == nil {
			return nil, apperr.Errorf(apperr.ParseError, "line %d: %q appears before any section header", lineNo, line)
		}
		if cur.full() && strings.TrimSpace(pending.String()) == "" {
			return nil, apperr.Errorf(apperr.ParseError, "line %d: *%s declares %d entries, found more", lineNo, cur.keyword, cur.count)
		}

		if cur.kind == secVariable {
			cur.entries = append(cur.entries, entry{line: lineNo, text: line})
			continue
		}

		if pending.Len() == 0 {
			pendLine = lineNo
		} else {
			pending.WriteByte(' ')
		}
		pending.WriteString(line)
		for {
			buf := pending.String()
			i := strings.Index(buf, ";")
			if i < 0 {
				break
			}
			if cur.full() {
				return nil, apperr.Errorf(apperr.ParseError, "line %d: *%s declares %d entries, found more", lineNo, cur.keyword, cur.count)
			}
			cur.entries = append(cur.entries, entry{line: pendLine, text: strings.TrimSpace(buf[:i])})
			rest := strings.TrimSpace(buf[i+1:])
			pending.Reset()
			pending.WriteString(rest)
			pendLine = lineNo
		}
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.ParseError, "read formulation")
	}
	if err := closeSection(); err != nil {
		return nil, err
	}
	return sections, nil
}

// ParseVariableLine parses "name: min, max[, kind[, inc]]".
func ParseVariableLine(text string) (Variable, error) {
	i := strings.Index(text, ":")
	if i < 0 {
		return Variable{}, fmt.Errorf("expected 'name: min, max', got %q", text)
	}
	v := Variable{Name: strings.TrimSpace(text[:i]), Kind: KindReal, Increment: DefaultIncrement}
	fields := strings.Split(text[i+1:], ",")
	if len(fields) < 2 || len(fields) > 4 {
		return Variable{}, fmt.Errorf("variable %s: expected 2 to 4 fields, got %d", v.Name, len(fields))
	}
	var err error
	if v.Min, err = strconv.ParseFloat(strings.TrimSpace(fields[0]), 64); err != nil {
		return Variable{}, fmt.Errorf("variable %s: bad min %q", v.Name, strings.TrimSpace(fields[0]))
	}
	if v.Max, err = strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err != nil {
		return Variable{}, fmt.Errorf("variable %s: bad max %q", v.Name, strings.TrimSpace(fields[1]))
	}
	if len(fields) > 2 {
		v.Kind = strings.ToUpper(strings.TrimSpace(fields[2]))
	}
	if len(fields) > 3 {
		if v.Increment, err = strconv.ParseFloat(strings.TrimSpace(fields[3]), 64); err != nil {
			return Variable{}, fmt.Errorf("variable %s: bad increment %q", v.Name, strings.TrimSpace(fields[3]))
		}
	}
	return v, nil
}

func splitAssignment(text string) (string, string, error) {
	i := strings.Index(text, "=")
	if i < 0 {
		return "", "", fmt.Errorf("expected 'name = body', got %q", text)
	}
	name, body := strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+1:])
	if name == "" || body == "" {
		return "", "", fmt.Errorf("expected 'name = body', got %q", text)
	}
	return name, body, nil
}

// Parse reads .fnc text into a compiled Formulation.
func Parse(text string, opts Options) (*Formulation, error) {
	const op = "formulation.Parse"

	f, err := New(opts)
	if err != nil {
		return nil, err
	}
	sections, err := scan(text)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ParseError, "").WithOperation(op)
	}

	for _, s := range sections {
		for _, e := range s.entries {
			if s.kind == secVariable {
				v, err := ParseVariableLine(e.text)
				if err != nil {
					return nil, apperr.Wrapf(err, apperr.ParseError, "line %d: *%s", e.line, s.keyword).WithOperation(op)
				}
				f.variables = append(f.variables, v)
				continue
			}
			name, body, err := splitAssignment(e.text)
			if err != nil {
				return nil, apperr.Wrapf(err, apperr.ParseError, "line %d: *%s", e.line, s.keyword).WithOperation(op)
			}
			switch s.kind {
			case secConstant:
				f.constants = append(f.constants, Constant{Name: name, Expr: body})
			case secFunction:
				f.functions = append(f.functions, &Expression{Name: name, Body: body, Role: RoleFunction})
			case secObjective:
				f.objectives = append(f.objectives, &Expression{Name: name, Body: body, Role: RoleObjective})
			case secEquality:
				f.equalities = append(f.equalities, &Expression{Name: name, Body: body, Role: RoleEquality})
			case secInequality:
				f.inequalities = append(f.inequalities, &Expression{Name: name, Body: body, Role: RoleInequality})
			case secGradient:
				f.gradients = append(f.gradients, gradientEntry{Name: strings.ToUpper(name), Body: body})
			}
		}
	}

	if err := f.compile(); err != nil {
		return nil, err
	}
	return f, nil
}

// GenerateFNC renders the formulation in the .fnc grammar. Gradients of the
// objectives and constraints are always written; supplied gradients of
// functions are written as well.
func (f *Formulation) GenerateFNC() string {
	var b strings.Builder

	fmt.Fprintf(&b, "*VARIABLE: %d\n", len(f.variables))
	for _, v := range f.variables {
		fmt.Fprintf(&b, "%s: %s, %s, %s, %s\n", v.Name, expr.FormatNumber(v.Min), expr.FormatNumber(v.Max), v.Kind, expr.FormatNumber(v.Increment))
	}
	fmt.Fprintf(&b, "*CONSTANT: %d\n", len(f.constants))
	for _, c := range f.constants {
		fmt.Fprintf(&b, "%s = %s;\n", c.Name, c.Expr)
	}
	writeBodies := func(keyword string, list []*Expression) {
		fmt.Fprintf(&b, "*%s: %d\n", keyword, len(list))
		for _, e := range list {
			fmt.Fprintf(&b, "%s = %s;\n", e.Name, e.Body)
		}
	}
	writeBodies("FUNCTION", f.functions)
	writeBodies("OBJECTIVE", f.objectives)
	writeBodies("EQUALITY-CONSTRAINT", f.equalities)
	writeBodies("INEQUALITY-CONSTRAINT", f.inequalities)

	var grads []string
	written := make(map[string]bool)
	for _, list := range [][]*Expression{f.objectives, f.equalities, f.inequalities} {
		for _, e := range list {
			for i, text := range e.GradientText() {
				name := expr.GradientName(e.Name, f.variables[i].Name)
				written[name] = true
				grads = append(grads, fmt.Sprintf("%s = %s;\n", name, text))
			}
		}
	}
	for _, g := range f.gradients {
		if !written[strings.ToUpper(g.Name)] {
			grads = append(grads, fmt.Sprintf("%s = %s;\n", strings.ToUpper(g.Name), g.Body))
		}
	}
	fmt.Fprintf(&b, "*GRADIENT: %d\n", len(grads))
	for _, g := range grads {
		b.WriteString(g)
	}
	return b.String()
}
