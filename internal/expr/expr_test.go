package expr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

func evalText(t *testing.T, text string, s Scope, x []float64) (float64, error) {
	t.Helper()
	n, err := ParseBound(text, s)
	require.NoError(t, err, text)
	return Eval(n, x)
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "x1**2+1", Canonicalize("X1^2\n+1"))
	assert.Equal(t, "sin(x2)", Canonicalize("SIN(X2)\r\n"))
}

func TestParseAndEvaluate(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"-2**2", -4},
		{"2**3**2", 512},
		{"2^-1", 0.5},
		{"(1+2)*3", 9},
		{"1e-3*1000", 1},
		{"10/4/5", 0.5},
		{"pi", math.Pi},
		{"sqrt(16) + abs(-3)", 7},
		{"pow(2, 10)", 1024},
		{"log(exp(2))", 2},
		{"ln(1)", 0},
		{"sign(-3) + ceil(1.2) + floor(1.8)", 2},
		{".5 + +1", 1.5},
		{"2*-3", -6},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := evalText(t, tt.text, Scope{}, nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		text string
		kind apperr.Kind
	}{
		{"(1+2", apperr.ParseError},
		{"1+2)", apperr.ParseError},
		{"sin(1", apperr.ParseError},
		{"1 +", apperr.ParseError},
		{"", apperr.ParseError},
		{"3 $ 4", apperr.ParseError},
		{"sqrt(1, 2)", apperr.ParseError},
		{"foo(1)", apperr.UnresolvedReference},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err), err.Error())
			assert.NotContains(t, err.Error(), "\n")
		})
	}
}

func TestBindResolution(t *testing.T) {
	fn, err := ParseBound("x1**2", Scope{})
	require.NoError(t, err)

	s := Scope{
		Variables: []string{"a", "x11"},
		Constants: map[string]float64{"c": 2},
		Functions: map[string]Node{"f1": fn},
	}

	tests := []struct {
		name string
		text string
		x    []float64
		want float64
	}{
		{"declared name beats positional", "x11*10", []float64{1, 2}, 20},
		{"positional alias", "x1 + x11*10", []float64{1, 2}, 21},
		{"declared variable", "a*3", []float64{4, 0}, 12},
		{"constant by value", "c*x1", []float64{3, 0}, 6},
		{"function inlined", "f1 + 1", []float64{3, 0}, 10},
		{"case-insensitive lookup", "C*X1 + F1", []float64{3, 0}, 15},
		{"pi", "2*pi", nil, 2 * math.Pi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalText(t, tt.text, s, tt.x)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, err = ParseBound("y + 1", s)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.UnresolvedReference))
	assert.Contains(t, err.Error(), `"y"`)
}

func TestPositionalIndex(t *testing.T) {
	idx, ok := PositionalIndex("x12")
	assert.True(t, ok)
	assert.Equal(t, 11, idx)

	for _, name := range []string{"x", "x0", "xa", "y1", "x+1"} {
		_, ok := PositionalIndex(name)
		assert.False(t, ok, name)
	}
}

func TestZeroDivisionRetry(t *testing.T) {
	tests := []struct {
		text string
		x    []float64
		want float64
	}{
		{"1/x1", []float64{0}, 1e15},
		{"x2/x1", []float64{0, 0}, 1},
		{"x1**-1", []float64{0}, 1e15},
		{"x2/x1", []float64{0, 4}, 4e15},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := evalText(t, tt.text, Scope{}, tt.x)
			require.NoError(t, err)
			assert.InEpsilon(t, tt.want, got, 1e-12)
		})
	}

	_, err := evalText(t, "1/(x1 - x1)", Scope{}, []float64{2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivisionByZero)
	assert.True(t, apperr.IsKind(err, apperr.NumericFailure))
}

func TestNumericFailures(t *testing.T) {
	tests := []struct {
		text string
		x    []float64
		kind apperr.Kind
	}{
		{"sqrt(x1)", []float64{-1}, apperr.NumericFailure},
		{"log(x1)", []float64{0}, apperr.NumericFailure},
		{"exp(x1)", []float64{1000}, apperr.NumericFailure},
		{"x1**0.5", []float64{-4}, apperr.NumericFailure},
		{"asin(x1)", []float64{2}, apperr.NumericFailure},
		{"x3", []float64{1}, apperr.DimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := evalText(t, tt.text, Scope{}, tt.x)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		text string
		v    int
		x    []float64
		want float64
	}{
		{"x1**2 + 3", 0, []float64{2}, 4},
		{"x1*x2", 1, []float64{3, 4}, 3},
		{"sin(x1)*exp(x2)", 0, []float64{0.5, 1}, math.Cos(0.5) * math.E},
		{"x1/x2", 1, []float64{1, 2}, -0.25},
		{"log(x1)", 0, []float64{2}, 0.5},
		{"x1**x2", 0, []float64{2, 3}, 12},
		{"x1**x2", 1, []float64{2, 3}, 8 * math.Ln2},
		{"2**x1", 0, []float64{3}, 8 * math.Ln2},
		{"sqrt(x1)", 0, []float64{4}, 0.25},
		{"atan(x1)", 0, []float64{1}, 0.5},
		{"abs(x1)", 0, []float64{-2}, -1},
		{"tanh(x1)", 0, []float64{0}, 1},
		{"acos(x1)", 0, []float64{0}, -1},
		{"pow(x1, 3)", 0, []float64{2}, 12},
		{"-x1**3", 0, []float64{2}, -12},
		{"cos(x1**2)", 0, []float64{1}, -2 * math.Sin(1)},
		{"floor(x1) + x2", 0, []float64{1.5, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			n, err := ParseBound(tt.text, Scope{})
			require.NoError(t, err)
			for _, b := range []SymbolicBackend{Native{}, Evaluable{}} {
				d := Gradient(b, n, len(tt.x), false)[tt.v]
				c, err := b.ToCallable(d)
				require.NoError(t, err)
				got, err := c(tt.x)
				require.NoError(t, err, String(d))
				assert.InDelta(t, tt.want, got, 1e-12, String(d))
			}
		})
	}
}

func TestGradientText(t *testing.T) {
	n, err := ParseBound("x1**2 + 3*x1*x2", Scope{Variables: []string{"x1", "x2"}})
	require.NoError(t, err)

	g := Gradient(Native{}, n, 2, false)
	assert.Equal(t, "2*x1 + 3*x2", String(g[0]))
	assert.Equal(t, "3*x1", String(g[1]))

	assert.Equal(t, "GF1_X2", GradientName("f1", "x2"))
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"x1*1 + 0", "x1"},
		{"0*x1 + x2", "x2"},
		{"2*3*x1", "6*x1"},
		{"x1 - x1", "0"},
		{"x1**1", "x1"},
		{"--x1", "x1"},
		{"x1*x1", "x1**2"},
		{"x1 + -x2", "x1 - x2"},
		{"x1*2", "2*x1"},
		{"2*(3*x1)", "6*x1"},
		{"x1/1", "x1"},
		{"(x1**2)**3", "x1**6"},
		{"sqrt(4) + x1", "2 + x1"},
		{"1/0 + x1", "1/0 + x1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, String(Simplify(MustParse(tt.in))))
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, text := range []string{
		"-x1**2",
		"(x1 + x2)*x3",
		"x1 - (x2 - x3)",
		"x1/(x2*x3)",
		"(-x1)**2",
		"x1**(x2 + 1)",
		"2**-x1",
		"-(x1*x2)",
		"sin(x1 + 1)**2",
		"x1**x2**x3",
		"(x1**x2)**x3",
		"1e-05*x1",
		"pow(x1, 2) - pi",
	} {
		t.Run(text, func(t *testing.T) {
			n := MustParse(text)
			again, err := Parse(String(n))
			require.NoError(t, err, String(n))
			assert.True(t, Equal(n, again), "%s -> %s", text, String(n))
		})
	}
}

func TestEvaluableMatchesNative(t *testing.T) {
	s := Scope{Variables: []string{"x1", "x2"}}
	points := [][]float64{{0.3, 1.7}, {-1.2, 0.4}, {2, 0}}

	for _, text := range []string{
		"x1**2 - 3*x2 + sin(x1)*exp(-x2)",
		"pow(x1, 2) + sqrt(abs(x2))",
		"1e-20*x1 + 1e20",
		"-x1**2 + 2**-x2",
		"x1/x2",
		"cosh(x1) - tanh(x2)/3.5",
	} {
		t.Run(text, func(t *testing.T) {
			n, err := ParseBound(text, s)
			require.NoError(t, err)
			native, err := Native{}.ToCallable(n)
			require.NoError(t, err)
			ev, err := Evaluable{}.ToCallable(n)
			require.NoError(t, err)

			for _, x := range points {
				want, err := native(x)
				require.NoError(t, err)
				got, err := ev(x)
				require.NoError(t, err)
				assert.InDelta(t, want, got, 1e-9*math.Max(1, math.Abs(want)))
			}
		})
	}
}

func TestEvalConstant(t *testing.T) {
	v, err := EvalConstant(MustParse("2*pi"))
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Pi, v, 1e-12)

	v, err = EvalConstant(MustParse("sqrt(2)**2 - 1e-3"))
	require.NoError(t, err)
	assert.InDelta(t, 1.999, v, 1e-12)

	_, err = EvalConstant(&Var{Name: "x1", Index: 0})
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))
}

func TestInlineText(t *testing.T) {
	defs := map[string]string{"F1": "x1+1", "F11": "x2*2"}
	assert.Equal(t, "(x2*2) + (x1+1)", InlineText("F11 + F1", defs))
	assert.Equal(t, "(x1+1)*F111", InlineText("f1*F111", defs))

	nested := map[string]string{"F1": "F2*2", "F2": "x1"}
	assert.Equal(t, "((x1)*2)", InlineText("F1", nested))
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("")
	require.NoError(t, err)
	assert.IsType(t, Native{}, b)

	b, err = NewBackend("Evaluable")
	require.NoError(t, err)
	assert.IsType(t, Evaluable{}, b)

	_, err = NewBackend("sympy")
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))
}

func BenchmarkCompiledEval(b *testing.B) {
	n, err := ParseBound("x1**2 + 3*x1*x2 - sin(x2)/(1 + x1**2)", Scope{})
	require.NoError(b, err)
	c, err := Compile(n)
	require.NoError(b, err)
	x := []float64{0.7, 1.3}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c(x)
	}
}
