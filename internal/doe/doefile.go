package doe

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
)

const commentMarkers = "#$*/|"

type doeLine struct {
	no   int
	text string
}

func doeLines(text string) ([]doeLine, error) {
	var out []doeLine
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	no := 0
	for sc.Scan() {
		no++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.ContainsRune(commentMarkers, rune(line[0])) {
			continue
		}
		out = append(out, doeLine{no: no, text: line})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseInts(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("expected a non-negative integer, got %q", f)
		}
		out[i] = n
	}
	return out, nil
}

// ReadDOE parses .doe text: a "P k L m" header, P data rows, k variable
// bound lines and m function lines. Data rows may carry the real-valued
// block after the normalized one; it is recomputed from the bounds.
func ReadDOE(text string, opts formulation.Options) (*Table, error) {
	const op = "doe.ReadDOE"

	fail := func(line int, format string, args ...interface{}) error {
		return apperr.Errorf(apperr.ParseError, "line %d: "+format, append([]interface{}{line}, args...)...).WithOperation(op)
	}

	lines, err := doeLines(text)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ParseError, "read DOE").WithOperation(op)
	}
	if len(lines) == 0 {
		return nil, apperr.New(apperr.ParseError, "empty DOE file").WithOperation(op)
	}

	header := strings.Fields(lines[0].text)
	if len(header) != 4 {
		return nil, fail(lines[0].no, "header must be 'P k L m', got %q", lines[0].text)
	}
	counts, err := parseInts(header)
	if err != nil {
		return nil, fail(lines[0].no, "%v", err)
	}
	p, k, levels, m := counts[0], counts[1], counts[2], counts[3]
	if k == 0 {
		return nil, fail(lines[0].no, "a DOE needs at least one variable")
	}

	rest := lines[1:]
	if len(rest) < p+k {
		return nil, apperr.Errorf(apperr.ParseError, "header declares %d rows and %d variables, file has %d lines", p, k, len(rest)).WithOperation(op)
	}

	type rawRow struct {
		line   int
		values []float64
		funcs  []float64
	}
	rows := make([]rawRow, 0, p)
	for _, l := range rest[:p] {
		fields := strings.Fields(l.text)
		withReal := 1 + 2*k + m
		if len(fields) != 1+k+m && len(fields) != withReal {
			return nil, fail(l.no, "expected %d or %d fields, got %d", 1+k+m, withReal, len(fields))
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			return nil, fail(l.no, "bad row index %q", fields[0])
		}
		nums := make([]float64, len(fields)-1)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fail(l.no, "bad value %q", f)
			}
			nums[i] = v
		}
		r := rawRow{line: l.no, values: nums[:k]}
		if len(fields) == withReal {
			r.funcs = nums[2*k:]
		} else {
			r.funcs = nums[k:]
		}
		rows = append(rows, r)
	}

	vars := make([]formulation.Variable, 0, k)
	for _, l := range rest[p : p+k] {
		v, err := formulation.ParseVariableLine(l.text)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.ParseError, "line %d", l.no).WithOperation(op)
		}
		vars = append(vars, v)
	}

	funcs := make([]FunctionColumn, 0, m)
	var (
		pending  strings.Builder
		pendLine int
	)
	for _, l := range rest[p+k:] {
		if pending.Len() == 0 {
			pendLine = l.no
		} else {
			pending.WriteByte(' ')
		}
		pending.WriteString(l.text)
		buf := pending.String()
		i := strings.Index(buf, ";")
		if i < 0 {
			continue
		}
		if strings.TrimSpace(buf[i+1:]) != "" {
			return nil, fail(l.no, "unexpected text after ';'")
		}
		eq := strings.Index(buf, "=")
		if eq < 0 || eq > i {
			return nil, fail(pendLine, "expected 'name = body;', got %q", buf)
		}
		name, body := strings.TrimSpace(buf[:eq]), strings.TrimSpace(buf[eq+1:i])
		if name == "" || body == "" {
			return nil, fail(pendLine, "expected 'name = body;', got %q", buf)
		}
		funcs = append(funcs, FunctionColumn{Name: name, Body: body})
		pending.Reset()
	}
	if strings.TrimSpace(pending.String()) != "" {
		return nil, fail(pendLine, "function line is missing its terminating ';'")
	}
	if len(funcs) != m {
		return nil, apperr.Errorf(apperr.ParseError, "header declares %d functions, found %d", m, len(funcs)).WithOperation(op)
	}

	t, err := NewTable(vars, funcs, opts)
	if err != nil {
		return nil, err
	}
	t.levels = levels
	for _, r := range rows {
		t.rows = append(t.rows, Row{
			Index:     t.nextIndex,
			Values:    append([]float64(nil), r.values...),
			Functions: append([]float64(nil), r.funcs...),
			Origin:    OriginGenerated,
		})
		t.nextIndex++
	}
	return t, nil
}

// WriteDOE renders the table in the .doe grammar, including the real-valued
// block of every row.
func (t *Table) WriteDOE() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %d %d %d\n", len(t.rows), len(t.variables), t.levels, len(t.functions))
	for _, r := range t.rows {
		cells := []string{strconv.Itoa(r.Index)}
		for _, v := range r.Values {
			cells = append(cells, FormatValue(v))
		}
		for _, v := range t.RealValues(r) {
			cells = append(cells, FormatValue(v))
		}
		for _, v := range r.Functions {
			cells = append(cells, FormatValue(v))
		}
		b.WriteString(strings.Join(cells, " "))
		b.WriteByte('\n')
	}
	for _, v := range t.variables {
		fmt.Fprintf(&b, "%s: %s, %s, %s, %s\n", v.Name, FormatValue(v.Min), FormatValue(v.Max), v.Kind, FormatValue(v.Increment))
	}
	for _, fn := range t.functions {
		fmt.Fprintf(&b, "%s = %s;\n", fn.Name, fn.Body)
	}
	return b.String()
}
