// Package formulation holds the authoritative problem description: variables,
// constants, named functions, objectives and constraints, their compiled
// evaluators and derived gradients, and the .fnc text grammar.
package formulation

import (
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/expr"
)

// KindReal is the only supported variable kind.
const KindReal = "REAL"

// DefaultIncrement is the variable increment used when none is given.
const DefaultIncrement = 1e-6

// Role is the section a named body belongs to.
type Role int

const (
	RoleFunction Role = iota
	RoleObjective
	RoleEquality
	RoleInequality
)

var roleNames = [...]string{"FUNCTION", "OBJECTIVE", "EQUALITY-CONSTRAINT", "INEQUALITY-CONSTRAINT"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "UNKNOWN"
}

// Shape records how an objective or constraint body refers to a function.
type Shape int

const (
	// ShapeRaw is any body that is not one of the recognized shapes.
	ShapeRaw Shape = iota
	// ShapeRef is a bare function reference F.
	ShapeRef
	// ShapeRefOffset is F + k or F - k.
	ShapeRefOffset
	// ShapeOffsetRef is k + F or k - F.
	ShapeOffsetRef
)

// Variable is a bounded decision variable.
type Variable struct {
	Name      string
	Min       float64
	Max       float64
	Kind      string
	Increment float64
}

// Constant is a named closed-form value.
type Constant struct {
	Name  string
	Expr  string
	Value float64
}

// Bound is the [Min, Max] interval of one variable.
type Bound struct {
	Min, Max float64
}

// ConstraintKind distinguishes body = 0 from body <= 0.
type ConstraintKind int

const (
	Equality ConstraintKind = iota
	Inequality
)

func (k ConstraintKind) String() string {
	if k == Equality {
		return "equality"
	}
	return "inequality"
}

// ConstraintFunction is one compiled constraint.
type ConstraintFunction struct {
	Kind ConstraintKind
	Name string
	Eval expr.Callable
}

// Normalization records the extrema used to rescale one objective.
type Normalization struct {
	Applied  bool
	Min, Max float64
}

// Options controls how a formulation compiles its bodies.
type Options struct {
	// Backend names the symbolic backend, "native" or "evaluable".
	Backend string
	// NoSimplify disables simplification of derived gradients.
	NoSimplify bool
	Logger     *zap.Logger
}

type gradientEntry struct {
	Name string
	Body string
}

// Expression is a named body: a function, an objective or a constraint.
type Expression struct {
	Name string
	Body string
	Role Role

	Shape Shape
	// Ref is the referenced function for the non-raw shapes.
	Ref string
	// Offset is k in F + k, or k in k ± F.
	Offset float64
	// Sign multiplies Ref: -1 for k - F, otherwise +1.
	Sign float64

	f        *Formulation
	node     expr.Node
	eval     expr.Callable
	grad     []expr.Node
	gradEval []expr.Callable
}

// Node returns the bound tree with every function reference inlined.
func (e *Expression) Node() expr.Node { return e.node }

// Eval evaluates the body at x.
func (e *Expression) Eval(x []float64) (float64, error) {
	v, err := e.eval(x)
	if err != nil {
		return 0, apperr.Wrapf(err, apperr.NumericFailure, "%s %s", e.Role, e.Name)
	}
	return v, nil
}

// Callable returns the compiled evaluator.
func (e *Expression) Callable() expr.Callable { return e.eval }

func (e *Expression) gradientNodes() []expr.Node {
	if e.grad != nil {
		return e.grad
	}
	f := e.f
	g := expr.Gradient(f.backend, e.node, len(f.variables), f.opts.NoSimplify)
	for v, variable := range f.variables {
		if n, ok := f.gradNodes[expr.GradientName(e.Name, variable.Name)]; ok {
			g[v] = n
		}
	}
	e.grad = g
	return g
}

// Gradient returns one compiled partial derivative per variable. Gradients
// are derived symbolically on first use unless the GRADIENT section supplied
// them.
func (e *Expression) Gradient() ([]expr.Callable, error) {
	if e.gradEval != nil {
		return e.gradEval, nil
	}
	nodes := e.gradientNodes()
	out := make([]expr.Callable, len(nodes))
	for i, n := range nodes {
		c, err := e.f.backend.ToCallable(n)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.NumericFailure, "gradient %s", expr.GradientName(e.Name, e.f.variables[i].Name))
		}
		out[i] = c
	}
	e.gradEval = out
	return out, nil
}

// GradientText returns the printed partial derivatives.
func (e *Expression) GradientText() []string {
	nodes := e.gradientNodes()
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = e.f.backend.ToString(n)
	}
	return out
}

// Formulation is a compiled problem description. Every mutating method
// recompiles and leaves the formulation unchanged when compilation fails.
type Formulation struct {
	variables    []Variable
	constants    []Constant
	functions    []*Expression
	objectives   []*Expression
	equalities   []*Expression
	inequalities []*Expression
	gradients    []gradientEntry
	norm         []Normalization

	opts      Options
	backend   expr.SymbolicBackend
	logger    *zap.Logger
	graph     *DependencyGraph
	gradNodes map[string]expr.Node
}

// New returns an empty formulation.
func New(opts Options) (*Formulation, error) {
	backend, err := expr.NewBackend(opts.Backend)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formulation{
		opts:    opts,
		backend: backend,
		logger:  logger.Named("formulation"),
		graph:   newDependencyGraph(),
	}, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validName(name string) bool {
	lower := strings.ToLower(name)
	return identPattern.MatchString(name) && lower != "pi" && !expr.IsBuiltin(lower)
}

// named returns every named body in declaration order.
func (f *Formulation) named() []*Expression {
	out := make([]*Expression, 0, len(f.functions)+len(f.objectives)+len(f.equalities)+len(f.inequalities))
	out = append(out, f.functions...)
	out = append(out, f.objectives...)
	out = append(out, f.equalities...)
	return append(out, f.inequalities...)
}

func (f *Formulation) compile() error {
	const op = "Formulation.compile"

	seen := make(map[string]string)
	claim := func(section, name string) error {
		if !validName(name) {
			return apperr.Errorf(apperr.ParseError, "%s %q is not a valid identifier", section, name).WithOperation(op)
		}
		key := strings.ToLower(name)
		if prev, ok := seen[key]; ok {
			return apperr.Errorf(apperr.ParseError, "%s %s is already declared in %s", section, name, prev).WithOperation(op)
		}
		seen[key] = section
		return nil
	}

	varNames := make([]string, len(f.variables))
	for i, v := range f.variables {
		if err := claim("VARIABLE", v.Name); err != nil {
			return err
		}
		if math.IsNaN(v.Min) || math.IsNaN(v.Max) || math.IsInf(v.Min, 0) || math.IsInf(v.Max, 0) {
			return apperr.Errorf(apperr.ParseError, "VARIABLE %s: bounds must be finite", v.Name).WithOperation(op)
		}
		if v.Min > v.Max {
			return apperr.Errorf(apperr.ParseError, "VARIABLE %s: min %g exceeds max %g", v.Name, v.Min, v.Max).WithOperation(op)
		}
		if !strings.EqualFold(v.Kind, KindReal) {
			return apperr.Errorf(apperr.ParseError, "VARIABLE %s: unsupported kind %q", v.Name, v.Kind).WithOperation(op)
		}
		varNames[i] = v.Name
	}

	consts := make(map[string]float64, len(f.constants))
	for i := range f.constants {
		c := &f.constants[i]
		if err := claim("CONSTANT", c.Name); err != nil {
			return err
		}
		node, err := expr.ParseBound(c.Expr, expr.Scope{Constants: consts})
		if err != nil {
			return apperr.Wrapf(err, apperr.ParseError, "CONSTANT %s", c.Name).WithOperation(op)
		}
		value, err := expr.EvalConstant(node)
		if err != nil {
			return apperr.Wrapf(err, apperr.NumericFailure, "CONSTANT %s", c.Name).WithOperation(op)
		}
		c.Value = value
		consts[strings.ToLower(c.Name)] = value
	}

	named := f.named()
	graph := newDependencyGraph()
	for _, e := range named {
		if err := claim(e.Role.String(), e.Name); err != nil {
			return err
		}
		graph.add(e.Name)
	}

	base := expr.Scope{Variables: varNames, Constants: consts}
	asts := make([]expr.Node, len(named))
	for i, e := range named {
		ast, err := expr.Parse(e.Body)
		if err != nil {
			return apperr.Wrapf(err, apperr.ParseError, "%s %s", e.Role, e.Name).WithOperation(op)
		}
		for _, sym := range expr.Symbols(ast) {
			if j, ok := graph.Lookup(sym); ok {
				graph.link(i, j)
				continue
			}
			if _, ok := base.Resolve(sym); !ok {
				return apperr.Errorf(apperr.UnresolvedReference, "%s %s: unresolved identifier %q", e.Role, e.Name, sym).WithOperation(op)
			}
		}
		e.detectShape(ast, graph)
		asts[i] = ast
	}

	order, err := graph.Order()
	if err != nil {
		return apperr.Wrap(err, apperr.CycleDetected, "").WithOperation(op)
	}

	bound := make(map[string]expr.Node, len(named))
	for _, i := range order {
		e := named[i]
		scope := base
		scope.Functions = bound
		node, err := expr.Bind(asts[i], scope)
		if err != nil {
			return apperr.Wrapf(err, apperr.UnresolvedReference, "%s %s", e.Role, e.Name).WithOperation(op)
		}
		if idx := expr.MaxVarIndex(node); idx >= len(f.variables) {
			return apperr.Errorf(apperr.UnresolvedReference, "%s %s: references x%d but %d variable(s) are declared", e.Role, e.Name, idx+1, len(f.variables)).WithOperation(op)
		}
		callable, err := f.backend.ToCallable(node)
		if err != nil {
			return apperr.Wrapf(err, apperr.ParseError, "%s %s", e.Role, e.Name).WithOperation(op)
		}
		e.f = f
		e.node, e.eval = node, callable
		e.grad, e.gradEval = nil, nil
		bound[strings.ToLower(e.Name)] = node
	}

	valid := make(map[string]bool)
	for _, e := range named {
		for _, v := range f.variables {
			valid[expr.GradientName(e.Name, v.Name)] = true
		}
	}
	full := base
	full.Functions = bound
	gradNodes := make(map[string]expr.Node, len(f.gradients))
	for _, g := range f.gradients {
		key := strings.ToUpper(g.Name)
		if !valid[key] {
			return apperr.Errorf(apperr.ParseError, "GRADIENT %s does not name a (function, variable) pair", g.Name).WithOperation(op)
		}
		node, err := expr.ParseBound(g.Body, full)
		if err != nil {
			return apperr.Wrapf(err, apperr.ParseError, "GRADIENT %s", g.Name).WithOperation(op)
		}
		gradNodes[key] = node
	}

	if len(f.norm) != len(f.objectives) {
		norm := make([]Normalization, len(f.objectives))
		copy(norm, f.norm)
		f.norm = norm
	}
	f.graph = graph
	f.gradNodes = gradNodes

	f.logger.Debug("compiled formulation",
		zap.Int("variables", len(f.variables)),
		zap.Int("constants", len(f.constants)),
		zap.Int("functions", len(f.functions)),
		zap.Int("objectives", len(f.objectives)),
		zap.Int("equalities", len(f.equalities)),
		zap.Int("inequalities", len(f.inequalities)),
	)
	return nil
}

func (e *Expression) detectShape(ast expr.Node, g *DependencyGraph) {
	e.Shape, e.Ref, e.Offset, e.Sign = ShapeRaw, "", 0, 1
	isRef := func(n expr.Node) (string, bool) {
		s, ok := n.(*expr.Sym)
		if !ok {
			return "", false
		}
		if _, known := g.Lookup(s.Name); !known || strings.EqualFold(s.Name, e.Name) {
			return "", false
		}
		return s.Name, true
	}

	if ref, ok := isRef(ast); ok {
		e.Shape, e.Ref = ShapeRef, ref
		return
	}
	b, ok := ast.(*expr.Binary)
	if !ok || (b.Op != expr.Add && b.Op != expr.Sub) {
		return
	}
	if ref, ok := isRef(b.L); ok {
		if k, ok := b.R.(*expr.Num); ok {
			e.Shape, e.Ref, e.Offset = ShapeRefOffset, ref, k.Value
			if b.Op == expr.Sub {
				e.Offset = -k.Value
			}
		}
		return
	}
	if k, ok := b.L.(*expr.Num); ok {
		if ref, ok := isRef(b.R); ok {
			e.Shape, e.Ref, e.Offset = ShapeOffsetRef, ref, k.Value
			if b.Op == expr.Sub {
				e.Sign = -1
			}
		}
	}
}

// mutate applies change and recompiles, restoring the previous state when
// compilation fails.
func (f *Formulation) mutate(change func()) error {
	saved := *f
	saved.variables = append([]Variable(nil), f.variables...)
	saved.constants = append([]Constant(nil), f.constants...)
	saved.functions = append([]*Expression(nil), f.functions...)
	saved.objectives = append([]*Expression(nil), f.objectives...)
	saved.equalities = append([]*Expression(nil), f.equalities...)
	saved.inequalities = append([]*Expression(nil), f.inequalities...)
	saved.gradients = append([]gradientEntry(nil), f.gradients...)
	saved.norm = append([]Normalization(nil), f.norm...)
	bodies := make(map[*Expression]string)
	for _, e := range f.named() {
		bodies[e] = e.Body
	}

	change()
	if err := f.compile(); err != nil {
		*f = saved
		for e, body := range bodies {
			e.Body = body
		}
		if rerr := f.compile(); rerr != nil {
			f.logger.Error("restoring formulation failed", zap.Error(rerr))
		}
		return err
	}
	return nil
}

// AddVariable appends a variable. Kind and Increment default to REAL and
// DefaultIncrement.
func (f *Formulation) AddVariable(v Variable) error {
	if v.Kind == "" {
		v.Kind = KindReal
	}
	if v.Increment == 0 {
		v.Increment = DefaultIncrement
	}
	return f.mutate(func() { f.variables = append(f.variables, v) })
}

// AddConstant appends a constant defined by a closed-form expression.
func (f *Formulation) AddConstant(name, text string) error {
	return f.mutate(func() { f.constants = append(f.constants, Constant{Name: name, Expr: strings.TrimSpace(text)}) })
}

func (f *Formulation) addBody(role Role, name, body string) error {
	e := &Expression{Name: strings.TrimSpace(name), Body: strings.TrimSpace(body), Role: role}
	return f.mutate(func() {
		switch role {
		case RoleFunction:
			f.functions = append(f.functions, e)
		case RoleObjective:
			f.objectives = append(f.objectives, e)
			f.norm = append(f.norm, Normalization{})
		case RoleEquality:
			f.equalities = append(f.equalities, e)
		case RoleInequality:
			f.inequalities = append(f.inequalities, e)
		}
	})
}

// AddFunction appends a named function, such as a surrogate expression.
func (f *Formulation) AddFunction(name, body string) error {
	return f.addBody(RoleFunction, name, body)
}

// AddObjective appends an objective.
func (f *Formulation) AddObjective(name, body string) error {
	return f.addBody(RoleObjective, name, body)
}

// AddEquality appends an equality constraint body = 0.
func (f *Formulation) AddEquality(name, body string) error {
	return f.addBody(RoleEquality, name, body)
}

// AddInequality appends an inequality constraint body <= 0.
func (f *Formulation) AddInequality(name, body string) error {
	return f.addBody(RoleInequality, name, body)
}

// SetGradient supplies the partial derivative named G<FUNC>_<VAR>, replacing
// the derived one.
func (f *Formulation) SetGradient(name, body string) error {
	name = strings.ToUpper(strings.TrimSpace(name))
	return f.mutate(func() {
		for i := range f.gradients {
			if strings.ToUpper(f.gradients[i].Name) == name {
				f.gradients[i].Body = strings.TrimSpace(body)
				return
			}
		}
		f.gradients = append(f.gradients, gradientEntry{Name: name, Body: strings.TrimSpace(body)})
	})
}

// SetObjectiveBody replaces the body of objective i and drops any supplied
// gradients for it so they are derived again.
func (f *Formulation) SetObjectiveBody(i int, body string) error {
	if i < 0 || i >= len(f.objectives) {
		return apperr.Errorf(apperr.InvalidArgument, "objective index %d out of range", i)
	}
	e := f.objectives[i]
	prefix := "G" + strings.ToUpper(e.Name) + "_"
	return f.mutate(func() {
		e.Body = strings.TrimSpace(body)
		kept := f.gradients[:0:0]
		for _, g := range f.gradients {
			if !strings.HasPrefix(strings.ToUpper(g.Name), prefix) {
				kept = append(kept, g)
			}
		}
		f.gradients = kept
	})
}

// ApplyNormalization rescales objective i to (f - fmin)/(fmax - fmin), or
// f/(fmax - fmin) when fmin is zero, and records the extrema.
func (f *Formulation) ApplyNormalization(i int, fmin, fmax float64) error {
	if i < 0 || i >= len(f.objectives) {
		return apperr.Errorf(apperr.InvalidArgument, "objective index %d out of range", i)
	}
	span := fmax - fmin
	if math.IsNaN(span) || math.IsInf(span, 0) || span == 0 {
		return apperr.Errorf(apperr.NumericFailure, "OBJECTIVE %s: cannot normalize over [%g, %g]", f.objectives[i].Name, fmin, fmax)
	}
	body := f.objectives[i].Body
	var scaled string
	if fmin == 0 {
		scaled = "(" + body + ")/(" + expr.FormatNumber(span) + ")"
	} else {
		scaled = "((" + body + ") - (" + expr.FormatNumber(fmin) + "))/(" + expr.FormatNumber(span) + ")"
	}
	if err := f.SetObjectiveBody(i, scaled); err != nil {
		return err
	}
	f.norm[i] = Normalization{Applied: true, Min: fmin, Max: fmax}
	return nil
}

// Normalization returns the recorded normalization of objective i.
func (f *Formulation) Normalization(i int) Normalization {
	if i < 0 || i >= len(f.norm) {
		return Normalization{}
	}
	return f.norm[i]
}

// Denormalize maps a point in normalized objective space back to raw
// objective values. Objectives that were not normalized pass through.
func (f *Formulation) Denormalize(point []float64) []float64 {
	out := make([]float64, len(point))
	for i, v := range point {
		n := f.Normalization(i)
		if n.Applied {
			v = v*(n.Max-n.Min) + n.Min
		}
		out[i] = v
	}
	return out
}

// Variables returns a copy of the declared variables.
func (f *Formulation) Variables() []Variable { return append([]Variable(nil), f.variables...) }

// Constants returns a copy of the evaluated constants.
func (f *Formulation) Constants() []Constant { return append([]Constant(nil), f.constants...) }

// Functions returns the named functions.
func (f *Formulation) Functions() []*Expression { return f.functions }

// Objectives returns the objectives.
func (f *Formulation) Objectives() []*Expression { return f.objectives }

// EqualityConstraints returns the equality constraints.
func (f *Formulation) EqualityConstraints() []*Expression { return f.equalities }

// InequalityConstraints returns the inequality constraints.
func (f *Formulation) InequalityConstraints() []*Expression { return f.inequalities }

// Graph returns the dependency graph of the named bodies.
func (f *Formulation) Graph() *DependencyGraph { return f.graph }

// Backend returns the symbolic backend bodies are compiled with.
func (f *Formulation) Backend() expr.SymbolicBackend { return f.backend }

// Options returns the options the formulation was built with.
func (f *Formulation) Options() Options { return f.opts }

// Lookup finds a named body case-insensitively.
func (f *Formulation) Lookup(name string) (*Expression, bool) {
	for _, e := range f.named() {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return nil, false
}

// Bounds returns the variable bounds in declaration order.
func (f *Formulation) Bounds() []Bound {
	out := make([]Bound, len(f.variables))
	for i, v := range f.variables {
		out[i] = Bound{Min: v.Min, Max: v.Max}
	}
	return out
}

// ConstraintFunctions returns the equality constraints followed by the
// inequality constraints.
func (f *Formulation) ConstraintFunctions() []ConstraintFunction {
	out := make([]ConstraintFunction, 0, len(f.equalities)+len(f.inequalities))
	for _, e := range f.equalities {
		out = append(out, ConstraintFunction{Kind: Equality, Name: e.Name, Eval: e.eval})
	}
	for _, e := range f.inequalities {
		out = append(out, ConstraintFunction{Kind: Inequality, Name: e.Name, Eval: e.eval})
	}
	return out
}

func gradients(list []*Expression) ([][]expr.Callable, error) {
	out := make([][]expr.Callable, len(list))
	for i, e := range list {
		g, err := e.Gradient()
		if err != nil {
			return nil, err
		}
		out[i] = g
	}
	return out, nil
}

// ObjectiveGradients returns one row of partial derivatives per objective.
func (f *Formulation) ObjectiveGradients() ([][]expr.Callable, error) {
	return gradients(f.objectives)
}

// ConstraintGradients returns one row per constraint, in the order of
// ConstraintFunctions.
func (f *Formulation) ConstraintGradients() ([][]expr.Callable, error) {
	all := append(append([]*Expression(nil), f.equalities...), f.inequalities...)
	return gradients(all)
}

// Expand inlines every named body referenced by text, innermost last.
func (f *Formulation) Expand(text string) string {
	defs := make(map[string]string)
	for _, e := range f.named() {
		defs[e.Name] = e.Body
	}
	return expr.InlineText(text, defs)
}

// Clone returns an independent copy with the same normalization state.
func (f *Formulation) Clone() (*Formulation, error) {
	c, err := Parse(f.GenerateFNC(), f.opts)
	if err != nil {
		return nil, err
	}
	copy(c.norm, f.norm)
	return c, nil
}
