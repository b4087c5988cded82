package doe

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
)

// Origin records whether a row came from a generator or from the user.
type Origin int

const (
	OriginGenerated Origin = iota
	OriginUser
)

func (o Origin) String() string {
	if o == OriginUser {
		return "user"
	}
	return "generated"
}

// Row is one experiment: normalized variable cells and function values.
type Row struct {
	Index     int
	Values    []float64
	Functions []float64
	Origin    Origin
}

// FunctionColumn is a named function body evaluated on every row.
type FunctionColumn struct {
	Name string
	Body string
}

// Table is an editable DOE table. Variable cells are kept normalized; the
// function columns are evaluated at the de-normalized point.
type Table struct {
	variables []formulation.Variable
	functions []FunctionColumn
	rows      []Row
	levels    int
	nextIndex int

	compiled *formulation.Formulation
	opts     formulation.Options
	logger   *zap.Logger
}

// NewTable compiles the function columns over the variables.
func NewTable(vars []formulation.Variable, funcs []FunctionColumn, opts formulation.Options) (*Table, error) {
	const op = "doe.NewTable"

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{
		variables: append([]formulation.Variable(nil), vars...),
		functions: append([]FunctionColumn(nil), funcs...),
		nextIndex: 1,
		opts:      opts,
		logger:    logger.Named("doe"),
	}
	if err := t.compile(); err != nil {
		return nil, apperr.Wrap(err, apperr.ParseError, "compile DOE functions").WithOperation(op)
	}
	return t, nil
}

func (t *Table) compile() error {
	f, err := formulation.New(t.opts)
	if err != nil {
		return err
	}
	for _, v := range t.variables {
		if err := f.AddVariable(v); err != nil {
			return err
		}
	}
	for _, fn := range t.functions {
		if err := f.AddFunction(fn.Name, fn.Body); err != nil {
			return err
		}
	}
	t.compiled = f
	return nil
}

// Variables returns the variable declarations.
func (t *Table) Variables() []formulation.Variable {
	return append([]formulation.Variable(nil), t.variables...)
}

// Functions returns the function columns.
func (t *Table) Functions() []FunctionColumn {
	return append([]FunctionColumn(nil), t.functions...)
}

// Rows returns the rows in table order.
func (t *Table) Rows() []Row { return t.rows }

// Levels is the level count recorded in the .doe header.
func (t *Table) Levels() int { return t.levels }

// SetLevels records the level count written to the .doe header.
func (t *Table) SetLevels(l int) { t.levels = l }

func (t *Table) bound(col int) formulation.Bound {
	return formulation.Bound{Min: t.variables[col].Min, Max: t.variables[col].Max}
}

// Denormalize maps v in [-1, 1] onto [b.Min, b.Max]. A variable whose
// bounds were never set (both zero) passes v through.
func Denormalize(v float64, b formulation.Bound) float64 {
	if b.Min == 0 && b.Max == 0 {
		return v
	}
	return (b.Min+b.Max)/2 + v*(b.Max-b.Min)/2
}

// Normalize is the inverse of Denormalize. A degenerate range maps to 0.
func Normalize(x float64, b formulation.Bound) float64 {
	switch {
	case b.Min == 0 && b.Max == 0:
		return x
	case b.Min == b.Max:
		return 0
	}
	return (2*x - (b.Min + b.Max)) / (b.Max - b.Min)
}

// FormatValue renders a cell with 15 significant digits.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 15, 64)
}

// RealValues de-normalizes the variable cells of a row.
func (t *Table) RealValues(r Row) []float64 {
	out := make([]float64, len(r.Values))
	for j, v := range r.Values {
		out[j] = Denormalize(v, t.bound(j))
	}
	return out
}

func (t *Table) find(index int) (int, *apperr.Error) {
	for i, r := range t.rows {
		if r.Index == index {
			return i, nil
		}
	}
	return -1, apperr.Errorf(apperr.InvalidArgument, "no row with index %d", index)
}

// AddRow appends a normalized row and evaluates its function cells. It
// returns the index assigned to the row.
func (t *Table) AddRow(values []float64, origin Origin) (int, error) {
	if len(values) != len(t.variables) {
		return 0, apperr.Errorf(apperr.DimensionMismatch, "row has %d values, table has %d variables", len(values), len(t.variables)).WithOperation("Table.AddRow")
	}
	r := Row{
		Index:     t.nextIndex,
		Values:    append([]float64(nil), values...),
		Functions: make([]float64, len(t.functions)),
		Origin:    origin,
	}
	t.nextIndex++
	t.evaluateRow(&r)
	t.rows = append(t.rows, r)
	return r.Index, nil
}

// AddPoints appends every generated row.
func (t *Table) AddPoints(p *Points) error {
	if p.Params.Design == Factorial || p.Params.Design == TaguchiDesign {
		t.levels = p.Params.Levels
	}
	for _, row := range p.Rows {
		if _, err := t.AddRow(row, OriginGenerated); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRow deletes the row with the given index.
func (t *Table) RemoveRow(index int) error {
	i, err := t.find(index)
	if err != nil {
		return err.WithOperation("Table.RemoveRow")
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

// SetRealValue stores a real-valued cell reverse-normalized and refreshes
// the row's functions. The row becomes user-owned.
func (t *Table) SetRealValue(index, col int, x float64) error {
	const op = "Table.SetRealValue"

	i, err := t.find(index)
	if err != nil {
		return err.WithOperation(op)
	}
	if col < 0 || col >= len(t.variables) {
		return apperr.Errorf(apperr.DimensionMismatch, "column %d out of range for %d variables", col, len(t.variables)).WithOperation(op)
	}
	r := &t.rows[i]
	r.Values[col] = Normalize(x, t.bound(col))
	r.Origin = OriginUser
	t.evaluateRow(r)
	return nil
}

// SetFunctions replaces the function columns and re-evaluates every row.
func (t *Table) SetFunctions(funcs []FunctionColumn) ([]error, error) {
	prev := t.functions
	t.functions = append([]FunctionColumn(nil), funcs...)
	if err := t.compile(); err != nil {
		t.functions = prev
		return nil, apperr.Wrap(err, apperr.ParseError, "compile DOE functions").WithOperation("Table.SetFunctions")
	}
	return t.Evaluate(), nil
}

// Evaluate recomputes every function cell. Failed cells are written as 0
// and reported as warnings.
func (t *Table) Evaluate() []error {
	var warnings []error
	for i := range t.rows {
		warnings = append(warnings, t.evaluateRow(&t.rows[i])...)
	}
	return warnings
}

func (t *Table) evaluateRow(r *Row) []error {
	var warnings []error
	if len(r.Functions) != len(t.functions) {
		r.Functions = make([]float64, len(t.functions))
	}
	x := t.RealValues(*r)
	for j, fn := range t.functions {
		e, ok := t.compiled.Lookup(fn.Name)
		if !ok {
			continue
		}
		v, err := e.Eval(x)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = apperr.Errorf(apperr.NumericFailure, "%s is not finite", fn.Name)
		}
		if err != nil {
			t.logger.Warn("function evaluation failed",
				zap.String("function", fn.Name),
				zap.Int("row", r.Index),
				zap.Error(err),
			)
			warnings = append(warnings, apperr.Wrapf(err, apperr.NumericFailure, "row %d: %s", r.Index, fn.Name))
			v = 0
		}
		r.Functions[j] = v
	}
	return warnings
}

// Data extracts real-valued inputs and one function column for fitting.
func (t *Table) Data(function string) ([][]float64, []float64, error) {
	col := -1
	for j, fn := range t.functions {
		if strings.EqualFold(fn.Name, function) {
			col = j
			break
		}
	}
	if col < 0 {
		return nil, nil, apperr.Errorf(apperr.UnresolvedReference, "no function column %q", function).WithOperation("Table.Data")
	}
	x := make([][]float64, len(t.rows))
	y := make([]float64, len(t.rows))
	for i, r := range t.rows {
		x[i] = t.RealValues(r)
		y[i] = r.Functions[col]
	}
	return x, y, nil
}

// VariableNames lists the variable symbols in column order.
func (t *Table) VariableNames() []string {
	out := make([]string, len(t.variables))
	for i, v := range t.variables {
		out[i] = v.Name
	}
	return out
}
