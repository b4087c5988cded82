// Package optimization drives the solvers over a compiled formulation and
// returns uniform result records.
package optimization

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/result"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the method over f and returns its result record. f is
	// not modified; normalization works on a copy.
	Optimize(ctx context.Context, f *formulation.Formulation) (*result.Record, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of evaluations
	GetHistory() []Evaluation
}

// Solution represents a solution in the optimization space. Value is the
// scalar the method minimized: the objective for SLSQP, the weighted sum for
// WSF and the first objective for the evolutionary methods.
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation is one start, weight tuple or generation of a run.
type Evaluation struct {
	Iteration int
	Solution  *Solution
	Error     error
}

// Option configures an optimizer.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger the optimizer and its solvers write to.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns the optimizer for s.Method.
func New(s config.Settings, opts ...Option) (Optimizer, error) {
	const op = "optimization.New"

	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	base := tracker{settings: s, logger: o.logger.Named("optimization")}
	switch strings.ToLower(s.Method) {
	case config.MethodSLSQP:
		return &Multistart{tracker: base}, nil
	case config.MethodWSF:
		return &WeightedSum{tracker: base}, nil
	case config.MethodNSGA2, config.MethodNSGA3:
		return &Evolutionary{tracker: base}, nil
	}
	return nil, apperr.Errorf(apperr.InvalidArgument, "unknown method %q", s.Method).WithOperation(op)
}

// tracker holds the state shared by every method.
type tracker struct {
	settings config.Settings
	logger   *zap.Logger

	best    *Solution
	history []Evaluation
}

func (t *tracker) reset() {
	t.best = nil
	t.history = nil
}

func (t *tracker) record(iteration int, x []float64, value float64, err error) {
	ev := Evaluation{Iteration: iteration, Error: err}
	if err == nil {
		ev.Solution = &Solution{Parameters: append([]float64(nil), x...), Value: value}
		if t.best == nil || value < t.best.Value {
			t.best = ev.Solution
		}
	}
	t.history = append(t.history, ev)
}

func (t *tracker) GetBestSolution() *Solution { return t.best }

func (t *tracker) GetHistory() []Evaluation {
	return append([]Evaluation(nil), t.history...)
}

// prepare copies f and normalizes the copy when the settings ask for it.
func (t *tracker) prepare(ctx context.Context, f *formulation.Formulation) (*formulation.Formulation, error) {
	work, err := f.Clone()
	if err != nil {
		return nil, err
	}
	if t.settings.Normalize {
		if err := Normalize(ctx, work, t.settings, t.logger); err != nil {
			return nil, err
		}
	}
	return work, nil
}

func names(f *formulation.Formulation) result.Names {
	n := result.Names{}
	for _, v := range f.Variables() {
		n.Variables = append(n.Variables, v.Name)
	}
	for _, e := range f.Objectives() {
		n.Objectives = append(n.Objectives, e.Name)
	}
	for _, e := range f.EqualityConstraints() {
		n.Equality = append(n.Equality, e.Name)
	}
	for _, e := range f.InequalityConstraints() {
		n.Inequality = append(n.Inequality, e.Name)
	}
	return n
}

func cancelled(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return apperr.Wrap(ctx.Err(), apperr.Cancelled, "optimization cancelled").WithOperation(op)
	default:
		return nil
	}
}
