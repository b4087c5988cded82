// Package slsqp implements sequential least-squares-style quadratic
// programming for smooth problems with equality, inequality and bound
// constraints.
package slsqp

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Function evaluates a scalar function.
type Function func(x []float64) (float64, error)

// Gradient writes the gradient of a function at x into grad.
type Gradient func(x, grad []float64) error

// Constraint is c(x) = 0 for equalities and c(x) ≥ 0 for inequalities. A nil
// Grad is approximated by central differences.
type Constraint struct {
	Func Function
	Grad Gradient
}

// Problem is a bound-constrained nonlinear program.
type Problem struct {
	Func Function
	Grad Gradient

	Equality   []Constraint
	Inequality []Constraint

	// Lower and Upper may be nil for unbounded variables.
	Lower []float64
	Upper []float64
}

// Settings tune the solver.
type Settings struct {
	MaxIter int
	// Tol bounds the step length and the constraint violation at
	// convergence.
	Tol float64
	// FTol bounds the change in objective at convergence.
	FTol float64
	// Step is the finite-difference step.
	Step   float64
	Logger *zap.Logger
}

// DefaultSettings mirrors the job defaults.
func DefaultSettings() Settings {
	return Settings{MaxIter: 100, Tol: 1e-6, FTol: 1e-6, Step: 1e-6}
}

// Status reports how the iteration ended.
type Status int

const (
	Success Status = iota
	IterationLimit
	LineSearchFailure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case IterationLimit:
		return "iteration limit reached"
	default:
		return "line search failed"
	}
}

// Result is the final iterate.
type Result struct {
	X          []float64
	F          float64
	Grad       []float64
	Equality   []float64
	Inequality []float64
	Iterations int
	Status     Status
}

// Success reports convergence.
func (r *Result) Success() bool { return r.Status == Success }

const (
	relaxPenalty   = 1e6
	armijo         = 0.1
	maxHalvings    = 10
	powellDamping  = 0.2
	powellMultiple = 0.8
)

type point struct {
	x      []float64
	f      float64
	eq, in []float64
}

type derivatives struct {
	g      []float64
	eq, in [][]float64
}

type solver struct {
	p      Problem
	s      Settings
	n      int
	lower  []float64
	upper  []float64
	logger *zap.Logger
}

// Minimize solves p from x0. Evaluation errors at the starting point are
// returned; a run that stops without converging returns its last iterate
// with a non-success Status.
func Minimize(ctx context.Context, p Problem, x0 []float64, s Settings) (*Result, error) {
	const op = "slsqp.Minimize"

	d := DefaultSettings()
	if s.MaxIter <= 0 {
		s.MaxIter = d.MaxIter
	}
	if s.Tol <= 0 {
		s.Tol = d.Tol
	}
	if s.FTol <= 0 {
		s.FTol = d.FTol
	}
	if s.Step <= 0 {
		s.Step = d.Step
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if p.Func == nil {
		return nil, apperr.New(apperr.InvalidArgument, "problem has no objective").WithOperation(op)
	}

	n := len(x0)
	if (p.Lower != nil && len(p.Lower) != n) || (p.Upper != nil && len(p.Upper) != n) {
		return nil, apperr.Errorf(apperr.DimensionMismatch, "bounds do not match %d variables", n).WithOperation(op)
	}
	sv := &solver{p: p, s: s, n: n, logger: s.Logger.Named("slsqp")}
	sv.lower, sv.upper = make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		sv.lower[i], sv.upper[i] = math.Inf(-1), math.Inf(1)
		if p.Lower != nil {
			sv.lower[i] = p.Lower[i]
		}
		if p.Upper != nil {
			sv.upper[i] = p.Upper[i]
		}
		if sv.lower[i] > sv.upper[i] {
			return nil, apperr.Errorf(apperr.InvalidArgument, "bound %d: lower %g exceeds upper %g", i, sv.lower[i], sv.upper[i]).WithOperation(op)
		}
	}

	cur, err := sv.values(sv.clip(x0))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.NumericFailure, "evaluate start point").WithOperation(op)
	}
	der, err := sv.derivatives(cur.x)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.NumericFailure, "differentiate start point").WithOperation(op)
	}
	res, err := sv.iterate(ctx, cur, der)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.NumericFailure, "").WithOperation(op)
	}
	return res, nil
}

func (sv *solver) clip(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Min(sv.upper[i], math.Max(sv.lower[i], v))
	}
	return out
}

func (sv *solver) values(x []float64) (*point, error) {
	pt := &point{x: x}
	var err error
	if pt.f, err = sv.p.Func(x); err != nil {
		return nil, err
	}
	if !finite(pt.f) {
		return nil, apperr.New(apperr.NumericFailure, "objective is not finite")
	}
	eval := func(cs []Constraint) ([]float64, error) {
		out := make([]float64, len(cs))
		for i, c := range cs {
			v, err := c.Func(x)
			if err != nil {
				return nil, err
			}
			if !finite(v) {
				return nil, apperr.Errorf(apperr.NumericFailure, "constraint %d is not finite", i+1)
			}
			out[i] = v
		}
		return out, nil
	}
	if pt.eq, err = eval(sv.p.Equality); err != nil {
		return nil, err
	}
	if pt.in, err = eval(sv.p.Inequality); err != nil {
		return nil, err
	}
	return pt, nil
}

// gradient uses the analytic gradient when there is one and it evaluates
// cleanly, and central differences otherwise.
func (sv *solver) gradient(f Function, g Gradient, x []float64) ([]float64, error) {
	out := make([]float64, sv.n)
	if g != nil {
		if err := g(x, out); err == nil && allFinite(out) {
			return out, nil
		}
	}
	var evalErr error
	fd.Gradient(out, func(y []float64) float64 {
		v, err := f(y)
		if err != nil && evalErr == nil {
			evalErr = err
		}
		return v
	}, x, &fd.Settings{Formula: fd.Central, Step: sv.s.Step})
	if evalErr != nil {
		return nil, evalErr
	}
	if !allFinite(out) {
		return nil, apperr.New(apperr.NumericFailure, "gradient is not finite")
	}
	return out, nil
}

func (sv *solver) derivatives(x []float64) (*derivatives, error) {
	d := &derivatives{}
	var err error
	if d.g, err = sv.gradient(sv.p.Func, sv.p.Grad, x); err != nil {
		return nil, err
	}
	jac := func(cs []Constraint) ([][]float64, error) {
		out := make([][]float64, len(cs))
		for i, c := range cs {
			if out[i], err = sv.gradient(c.Func, c.Grad, x); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	if d.eq, err = jac(sv.p.Equality); err != nil {
		return nil, err
	}
	if d.in, err = jac(sv.p.Inequality); err != nil {
		return nil, err
	}
	return d, nil
}

func violation(pt *point) float64 {
	h := 0.0
	for _, v := range pt.eq {
		h += math.Abs(v)
	}
	for _, v := range pt.in {
		h += math.Max(0, -v)
	}
	return h
}

func merit(pt *point, muEq, muIn []float64) float64 {
	m := pt.f
	for i, v := range pt.eq {
		m += muEq[i] * math.Abs(v)
	}
	for i, v := range pt.in {
		m += muIn[i] * math.Max(0, -v)
	}
	return m
}

// subproblem builds the relaxed QP in z = (d, δ):
//
//	min ½dᵀBd + gᵀd + ½ρδ²
//	∇c_eᵀd + (1-δ)c_e = 0
//	∇c_iᵀd + (1-σ_iδ)c_i ≥ 0, σ_i = 1 where c_i < 0
//	lower - x ≤ d ≤ upper - x, 0 ≤ δ ≤ 1
//
// which is feasible at d = 0, δ = 1.
func (sv *solver) subproblem(b *mat.Dense, pt *point, d *derivatives) (quadProgram, []float64) {
	n := sv.n
	h := mat.NewDense(n+1, n+1, nil)
	h.Slice(0, n, 0, n).(*mat.Dense).Copy(b)
	h.Set(n, n, relaxPenalty)

	q := append(append([]float64(nil), d.g...), 0)
	var rows [][]float64
	var rhs []float64
	add := func(row []float64, bound float64) {
		rows = append(rows, row)
		rhs = append(rhs, bound)
	}
	for i, c := range pt.eq {
		add(append(append([]float64(nil), d.eq[i]...), -c), -c)
	}
	for i, c := range pt.in {
		sigma := 0.0
		if c < 0 {
			sigma = 1
		}
		add(append(append([]float64(nil), d.in[i]...), -sigma*c), -c)
	}
	for j := 0; j < n; j++ {
		if !math.IsInf(sv.lower[j], -1) {
			row := make([]float64, n+1)
			row[j] = 1
			add(row, sv.lower[j]-pt.x[j])
		}
		if !math.IsInf(sv.upper[j], 1) {
			row := make([]float64, n+1)
			row[j] = -1
			add(row, pt.x[j]-sv.upper[j])
		}
	}
	lo := make([]float64, n+1)
	lo[n] = 1
	add(lo, 0)
	hi := make([]float64, n+1)
	hi[n] = -1
	add(hi, -1)

	z0 := make([]float64, n+1)
	z0[n] = 1
	return quadProgram{H: h, q: q, A: rows, b: rhs, nEq: len(pt.eq)}, z0
}

func (sv *solver) lagrangianGradient(d *derivatives, lamEq, lamIn []float64) []float64 {
	out := append([]float64(nil), d.g...)
	for i, row := range d.eq {
		floats.AddScaled(out, -lamEq[i], row)
	}
	for i, row := range d.in {
		floats.AddScaled(out, -lamIn[i], row)
	}
	return out
}

// kktResidual is |∇L|∞ at x with the components held at an active bound
// by a gradient pointing out of the box dropped.
func (sv *solver) kktResidual(x []float64, d *derivatives, lamEq, lamIn []float64) float64 {
	gl := sv.lagrangianGradient(d, lamEq, lamIn)
	r := 0.0
	for j, g := range gl {
		if (x[j] <= sv.lower[j] && g > 0) || (x[j] >= sv.upper[j] && g < 0) {
			continue
		}
		r = math.Max(r, math.Abs(g))
	}
	return r
}

func (sv *solver) iterate(ctx context.Context, cur *point, der *derivatives) (*Result, error) {
	n := sv.n
	ne, ni := len(cur.eq), len(cur.in)

	b := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		b.Set(i, i, 1)
	}
	muEq, muIn := make([]float64, ne), make([]float64, ni)

	result := func(iter int, status Status) *Result {
		return &Result{
			X:          cur.x,
			F:          cur.f,
			Grad:       der.g,
			Equality:   cur.eq,
			Inequality: cur.in,
			Iterations: iter,
			Status:     status,
		}
	}

	for iter := 1; iter <= sv.s.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(err, apperr.Cancelled, "optimization cancelled")
		}

		qp, z0 := sv.subproblem(b, cur, der)
		sol, err := solveQP(qp, z0, 50*(n+len(qp.A))+100)
		if err != nil {
			return nil, err
		}
		step := sol.z[:n]
		lamEq, lamIn := sol.lambda[:ne], sol.lambda[ne:ne+ni]

		h0 := violation(cur)
		if floats.Norm(step, math.Inf(1)) <= sv.s.Tol && h0 <= sv.s.Tol {
			return result(iter, Success), nil
		}

		for i := range muEq {
			muEq[i] = math.Max(math.Abs(lamEq[i]), 0.5*(muEq[i]+math.Abs(lamEq[i])))
		}
		for i := range muIn {
			muIn[i] = math.Max(math.Abs(lamIn[i]), 0.5*(muIn[i]+math.Abs(lamIn[i])))
		}
		m0 := merit(cur, muEq, muIn)
		slope := floats.Dot(der.g, step) - (m0 - cur.f)

		var (
			next     *point
			accepted bool
			alpha    = 1.0
		)
		for ls := 0; ls <= maxHalvings; ls++ {
			trial := make([]float64, n)
			floats.AddScaledTo(trial, cur.x, alpha, step)
			pt, err := sv.values(sv.clip(trial))
			if err == nil {
				mt := merit(pt, muEq, muIn)
				if (slope < 0 && mt <= m0+armijo*alpha*slope) || (slope >= 0 && mt < m0) {
					next, accepted = pt, true
					break
				}
				if ls == maxHalvings {
					next = pt
					break
				}
			}
			alpha /= 2
		}
		if next == nil {
			sv.logger.Debug("line search failed", zap.Int("iteration", iter), zap.Float64("merit", m0))
			return result(iter, LineSearchFailure), nil
		}

		nder, err := sv.derivatives(next.x)
		if err != nil {
			sv.logger.Debug("derivatives failed", zap.Int("iteration", iter), zap.Error(err))
			return result(iter, LineSearchFailure), nil
		}

		s := make([]float64, n)
		floats.SubTo(s, next.x, cur.x)
		y := sv.lagrangianGradient(nder, lamEq, lamIn)
		floats.Sub(y, sv.lagrangianGradient(der, lamEq, lamIn))
		bfgsUpdate(b, s, y)

		df := math.Abs(next.f - cur.f)
		cur, der = next, nder
		h := violation(cur)
		sv.logger.Debug("iteration",
			zap.Int("iteration", iter),
			zap.Float64("f", cur.f),
			zap.Float64("violation", h),
			zap.Float64("alpha", alpha),
		)
		if h > sv.s.Tol {
			continue
		}
		// df and |s| are only small because of stationarity when the full
		// step was taken; a shortened step needs the KKT residual instead.
		fullStep := accepted && alpha == 1
		if fullStep && (df <= sv.s.FTol || floats.Norm(s, math.Inf(1)) <= sv.s.Tol) {
			return result(iter, Success), nil
		}
		if sv.kktResidual(cur.x, der, lamEq, lamIn) <= sv.s.Tol {
			return result(iter, Success), nil
		}
	}
	return result(sv.s.MaxIter, IterationLimit), nil
}

// bfgsUpdate applies the Powell-damped BFGS update to b in place.
func bfgsUpdate(b *mat.Dense, s, y []float64) {
	n := len(s)
	sv := mat.NewVecDense(n, s)
	var bs mat.VecDense
	bs.MulVec(b, sv)
	sBs := mat.Dot(sv, &bs)
	if sBs <= 1e-14 {
		return
	}
	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	sy := mat.Dot(sv, yv)
	if sy < powellDamping*sBs {
		// y ← θy + (1-θ)Bs
		theta := powellMultiple * sBs / (sBs - sy)
		var mix mat.VecDense
		mix.ScaleVec(theta, yv)
		mix.AddScaledVec(&mix, 1-theta, &bs)
		yv = &mix
		sy = mat.Dot(sv, yv)
	}
	if sy <= 1e-14 {
		return
	}
	var upd mat.Dense
	upd.Outer(1/sy, yv, yv)
	b.Add(b, &upd)
	upd.Outer(-1/sBs, &bs, &bs)
	b.Add(b, &upd)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func allFinite(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}
