package optimization

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/expr"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/optimization/slsqp"
)

// gradientOf adapts compiled partial derivatives to an slsqp gradient. A nil
// result makes the solver fall back to finite differences.
func gradientOf(partials []expr.Callable) slsqp.Gradient {
	if partials == nil {
		return nil
	}
	return func(x, grad []float64) error {
		for i, p := range partials {
			v, err := p(x)
			if err != nil {
				return err
			}
			grad[i] = v
		}
		return nil
	}
}

func (t *tracker) partialsOf(e *formulation.Expression) []expr.Callable {
	g, err := e.Gradient()
	if err != nil {
		t.logger.Warn("symbolic gradient unavailable, using finite differences",
			zap.String("name", e.Name), zap.Error(err))
		return nil
	}
	return g
}

// buildProblem turns f into an slsqp problem minimizing Σ wᵢ·objectiveᵢ.
// A formulation inequality body ≤ 0 becomes the slsqp inequality -body ≥ 0.
func (t *tracker) buildProblem(f *formulation.Formulation, weights []float64) slsqp.Problem {
	objs := f.Objectives()
	k := len(f.Variables())

	partials := make([][]expr.Callable, len(objs))
	for i, e := range objs {
		partials[i] = t.partialsOf(e)
	}

	p := slsqp.Problem{
		Func: func(x []float64) (float64, error) {
			s := 0.0
			for i, e := range objs {
				v, err := e.Eval(x)
				if err != nil {
					return 0, err
				}
				s += weights[i] * v
			}
			return s, nil
		},
	}

	summed := true
	for _, row := range partials {
		summed = summed && row != nil
	}
	if summed {
		p.Grad = func(x, grad []float64) error {
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range partials {
				for j, d := range row {
					v, err := d(x)
					if err != nil {
						return err
					}
					grad[j] += weights[i] * v
				}
			}
			return nil
		}
	}

	for _, e := range f.EqualityConstraints() {
		p.Equality = append(p.Equality, slsqp.Constraint{
			Func: e.Eval,
			Grad: gradientOf(t.partialsOf(e)),
		})
	}
	for _, e := range f.InequalityConstraints() {
		body := e.Eval
		c := slsqp.Constraint{
			Func: func(x []float64) (float64, error) {
				v, err := body(x)
				return -v, err
			},
		}
		if g := gradientOf(t.partialsOf(e)); g != nil {
			c.Grad = func(x, grad []float64) error {
				if err := g(x, grad); err != nil {
					return err
				}
				for j := 0; j < k; j++ {
					grad[j] = -grad[j]
				}
				return nil
			}
		}
		p.Inequality = append(p.Inequality, c)
	}

	for _, b := range f.Bounds() {
		p.Lower = append(p.Lower, b.Min)
		p.Upper = append(p.Upper, b.Max)
	}
	return p
}

func (t *tracker) solverSettings() slsqp.Settings {
	s := slsqp.DefaultSettings()
	s.MaxIter = t.settings.MaxIter
	s.Tol = t.settings.Tol
	s.FTol = t.settings.FTol
	s.Logger = t.logger
	return s
}
