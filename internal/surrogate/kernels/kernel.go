// Package kernels provides the radial basis functions used by the RBF
// surrogate, each with a numeric form and a formulation-language form.
package kernels

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kernel is a radial function φ(r) with shape parameter ε.
type Kernel interface {
	// Name is the upper-case kernel identifier, e.g. GAUSSIAN or CS21.
	Name() string

	// Eval computes φ at distance r.
	Eval(r float64) float64

	// Expr renders φ in the formulation language given the text of the
	// squared distance S = r².
	Expr(s string) string

	// Augmented reports whether the interpolant needs a degree-1
	// polynomial tail to be uniquely solvable.
	Augmented() bool

	// Hyperparameters returns [ε].
	Hyperparameters() []float64

	// SetHyperparameters sets ε.
	SetHyperparameters(params []float64) error
}

// Lit formats a literal with 16 significant digits, parenthesized when
// negative so it can be embedded anywhere in an expression.
func Lit(v float64) string {
	s := strconv.FormatFloat(v, 'e', 15, 64)
	if v < 0 {
		return "(" + s + ")"
	}
	return s
}

type shape struct {
	epsilon float64
}

func (s *shape) Hyperparameters() []float64 { return []float64{s.epsilon} }

func (s *shape) SetHyperparameters(params []float64) error {
	if len(params) != 1 {
		return fmt.Errorf("expected 1 hyperparameter, got %d", len(params))
	}
	if params[0] <= 0 || math.IsInf(params[0], 0) || math.IsNaN(params[0]) {
		return fmt.Errorf("epsilon must be positive and finite, got %v", params[0])
	}
	s.epsilon = params[0]
	return nil
}

// LinearKernel is φ(r) = r.
type LinearKernel struct{ shape }

func (k *LinearKernel) Name() string           { return "LINEAR" }
func (k *LinearKernel) Eval(r float64) float64 { return r }
func (k *LinearKernel) Expr(s string) string   { return "sqrt(" + s + ")" }
func (k *LinearKernel) Augmented() bool        { return true }

// CubicKernel is φ(r) = r³.
type CubicKernel struct{ shape }

func (k *CubicKernel) Name() string           { return "CUBIC" }
func (k *CubicKernel) Eval(r float64) float64 { return r * r * r }
func (k *CubicKernel) Expr(s string) string   { return "(" + s + ")**1.5" }
func (k *CubicKernel) Augmented() bool        { return true }

// ThinPlateSplineKernel is φ(r) = r² log r, continuous at 0.
type ThinPlateSplineKernel struct{ shape }

func (k *ThinPlateSplineKernel) Name() string { return "THIN_PLATE_SPLINE" }

func (k *ThinPlateSplineKernel) Eval(r float64) float64 {
	if r == 0 {
		return 0
	}
	return r * r * math.Log(r)
}

// The tiny offset keeps log finite at the centres, where S*log(S) tends to 0.
func (k *ThinPlateSplineKernel) Expr(s string) string {
	return "0.5*(" + s + ")*log(" + s + " + 1e-300)"
}

func (k *ThinPlateSplineKernel) Augmented() bool { return true }

// GaussianKernel is φ(r) = exp(-(εr)²).
type GaussianKernel struct{ shape }

func (k *GaussianKernel) Name() string { return "GAUSSIAN" }

func (k *GaussianKernel) Eval(r float64) float64 {
	er := k.epsilon * r
	return math.Exp(-er * er)
}

func (k *GaussianKernel) Expr(s string) string {
	return "exp(-" + Lit(k.epsilon*k.epsilon) + "*(" + s + "))"
}

func (k *GaussianKernel) Augmented() bool { return false }

// MultiquadricKernel is φ(r) = sqrt(1 + (εr)²).
type MultiquadricKernel struct{ shape }

func (k *MultiquadricKernel) Name() string { return "MULTIQUADRIC" }

func (k *MultiquadricKernel) Eval(r float64) float64 {
	er := k.epsilon * r
	return math.Sqrt(1 + er*er)
}

func (k *MultiquadricKernel) Expr(s string) string {
	return "sqrt(1 + " + Lit(k.epsilon*k.epsilon) + "*(" + s + "))"
}

func (k *MultiquadricKernel) Augmented() bool { return false }

// InverseMultiquadricKernel is φ(r) = 1/sqrt(1 + (εr)²).
type InverseMultiquadricKernel struct{ shape }

func (k *InverseMultiquadricKernel) Name() string { return "INVERSE_MULTIQUADRIC" }

func (k *InverseMultiquadricKernel) Eval(r float64) float64 {
	er := k.epsilon * r
	return 1 / math.Sqrt(1+er*er)
}

func (k *InverseMultiquadricKernel) Expr(s string) string {
	return "1/sqrt(1 + " + Lit(k.epsilon*k.epsilon) + "*(" + s + "))"
}

func (k *InverseMultiquadricKernel) Augmented() bool { return false }

// WendlandKernel is the compactly supported ψ(l,k) in ρ = εr:
// φ = t^power · poly(ρ) / scale with t = max(0, 1-ρ).
type WendlandKernel struct {
	shape
	name  string
	power int
	// poly holds coefficients of ρ^0, ρ^1, ...
	poly  []float64
	scale float64
}

func (k *WendlandKernel) Name() string    { return k.name }
func (k *WendlandKernel) Augmented() bool { return false }

func (k *WendlandKernel) Eval(r float64) float64 {
	rho := k.epsilon * r
	t := math.Max(0, 1-rho)
	p, x := 0.0, 1.0
	for _, c := range k.poly {
		p += c * x
		x *= rho
	}
	return math.Pow(t, float64(k.power)) * p / k.scale
}

func (k *WendlandKernel) Expr(s string) string {
	rho := "(" + Lit(k.epsilon) + "*sqrt(" + s + "))"
	t := "((abs(1 - " + rho + ") + (1 - " + rho + "))/2)"
	var terms []string
	for i, c := range k.poly {
		switch i {
		case 0:
			terms = append(terms, Lit(c))
		case 1:
			terms = append(terms, Lit(c)+"*"+rho)
		default:
			terms = append(terms, Lit(c)+"*"+rho+"**"+strconv.Itoa(i))
		}
	}
	out := t + "**" + strconv.Itoa(k.power) + "*(" + strings.Join(terms, " + ") + ")"
	if k.scale != 1 {
		out += "/" + Lit(k.scale)
	}
	return out
}

var wendland = map[string]struct {
	power int
	poly  []float64
	scale float64
}{
	"CS20": {2, []float64{1}, 1},
	"CS21": {3, []float64{1, 3}, 1},
	"CS22": {4, []float64{1, 4, 5}, 1},
	"CS30": {3, []float64{1}, 1},
	"CS31": {4, []float64{1, 4}, 1},
	"CS32": {5, []float64{1, 5, 8}, 1},
	"CS33": {6, []float64{5, 30, 69, 64}, 5},
}

// Names lists every supported kernel.
func Names() []string {
	out := []string{"LINEAR", "CUBIC", "THIN_PLATE_SPLINE", "GAUSSIAN", "MULTIQUADRIC", "INVERSE_MULTIQUADRIC"}
	var cs []string
	for name := range wendland {
		cs = append(cs, name)
	}
	sort.Strings(cs)
	return append(out, cs...)
}

// New returns the kernel with the given name and shape parameter.
func New(name string, epsilon float64) (Kernel, error) {
	var k Kernel
	name = strings.ToUpper(strings.TrimSpace(name))
	switch name {
	case "LINEAR":
		k = &LinearKernel{}
	case "CUBIC":
		k = &CubicKernel{}
	case "THIN_PLATE_SPLINE", "TPS":
		k = &ThinPlateSplineKernel{}
	case "GAUSSIAN":
		k = &GaussianKernel{}
	case "MULTIQUADRIC":
		k = &MultiquadricKernel{}
	case "INVERSE_MULTIQUADRIC":
		k = &InverseMultiquadricKernel{}
	default:
		w, ok := wendland[name]
		if !ok {
			return nil, fmt.Errorf("unknown kernel %q", name)
		}
		k = &WendlandKernel{name: name, power: w.power, poly: w.poly, scale: w.scale}
	}
	if err := k.SetHyperparameters([]float64{epsilon}); err != nil {
		return nil, fmt.Errorf("kernel %s: %w", name, err)
	}
	return k, nil
}
