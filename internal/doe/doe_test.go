package doe

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
)

func TestFactorial(t *testing.T) {
	p, err := Generate(Params{Design: Factorial, Variables: 2, Levels: 3})
	require.NoError(t, err)
	require.Len(t, p.Rows, 9)

	// first variable cycles fastest
	assert.Equal(t, []float64{-1, -1}, p.Rows[0])
	assert.Equal(t, []float64{0, -1}, p.Rows[1])
	assert.Equal(t, []float64{1, -1}, p.Rows[2])
	assert.Equal(t, []float64{-1, 0}, p.Rows[3])

	seen := map[[2]float64]bool{}
	for _, r := range p.Rows {
		seen[[2]float64{r[0], r[1]}] = true
	}
	for _, a := range []float64{-1, 0, 1} {
		for _, b := range []float64{-1, 0, 1} {
			assert.True(t, seen[[2]float64{a, b}], "missing (%v, %v)", a, b)
		}
	}
}

func TestLevelValues(t *testing.T) {
	for l := 2; l <= 12; l++ {
		v := LevelValues(l)
		require.Len(t, v, l)
		for i := range v {
			assert.InDelta(t, -1+2*float64(i)/float64(l-1), v[i], 1e-15, "L=%d i=%d", l, i)
		}
	}
}

func TestCentralComposite(t *testing.T) {
	tests := []struct {
		design Design
		k      int
		alpha  float64
	}{
		{CentralCompositeSph, 2, 1.189207},
		{CentralCompositeSph, 3, 1.316074},
		{CentralCompositeFaced, 3, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.design)+"/"+strconv.Itoa(tt.k), func(t *testing.T) {
			p, err := Generate(Params{Design: tt.design, Variables: tt.k})
			require.NoError(t, err)
			corners := 1 << tt.k
			require.Len(t, p.Rows, corners+2*tt.k+1)
			for _, r := range p.Rows[:corners] {
				for _, v := range r {
					assert.Equal(t, 1.0, math.Abs(v))
				}
			}
			axial := p.Rows[corners]
			assert.Equal(t, -tt.alpha, axial[0])
			assert.Equal(t, tt.alpha, p.Rows[corners+1][0])
			assert.Equal(t, make([]float64, tt.k), p.Rows[len(p.Rows)-1])
		})
	}
}

func runs(name string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(name, "L"))
	return n
}

func TestTaguchiCatalogOrthogonal(t *testing.T) {
	for _, a := range Catalog {
		a := a
		t.Run(a.Name+"/"+strconv.Itoa(a.Levels), func(t *testing.T) {
			rows := a.Build()
			q := a.Levels
			require.Len(t, rows, runs(a.Name))
			cols := len(rows[0])
			require.GreaterOrEqual(t, cols, a.MaxVars)

			for c1 := 0; c1 < cols; c1++ {
				for c2 := c1 + 1; c2 < cols; c2++ {
					counts := make(map[[2]int]int)
					for _, r := range rows {
						require.Less(t, r[c1], q)
						counts[[2]int{r[c1], r[c2]}]++
					}
					require.Len(t, counts, q*q, "columns %d,%d", c1, c2)
					for pair, n := range counts {
						require.Equal(t, len(rows)/(q*q), n, "columns %d,%d pair %v", c1, c2, pair)
					}
				}
			}
		})
	}
}

func TestTaguchiLookup(t *testing.T) {
	tests := []struct {
		levels, vars int
		name         string
		rows         int
	}{
		{2, 3, "L4", 4},
		{2, 7, "L8", 8},
		{2, 11, "L12", 12},
		{3, 4, "L9", 9},
		{3, 6, "L18", 18},
		{3, 13, "L27", 27},
		{3, 20, "L54", 54},
		{4, 5, "L16", 16},
		{4, 8, "L32", 32},
		{5, 11, "L50", 50},
	}
	for _, tt := range tests {
		p, err := Generate(Params{Design: TaguchiDesign, Levels: tt.levels, Variables: tt.vars})
		require.NoError(t, err)
		assert.Equal(t, tt.name, p.ArrayName)
		assert.Len(t, p.Rows, tt.rows)
		assert.Len(t, p.Rows[0], tt.vars)
	}

	p, err := Generate(Params{Design: TaguchiDesign, Levels: 3, Variables: 13, Array: "L36"})
	require.NoError(t, err)
	assert.Equal(t, "L36", p.ArrayName)
	assert.Len(t, p.Rows, 36)
	// the same request without a name lands on L27
	a, err := LookupArray(3, 13)
	require.NoError(t, err)
	assert.Equal(t, "L27", a.Name)

	for _, bad := range [][2]int{{2, 32}, {3, 41}, {6, 2}, {5, 12}} {
		_, err := Generate(Params{Design: TaguchiDesign, Levels: bad[0], Variables: bad[1]})
		assert.True(t, apperr.IsKind(err, apperr.UnsupportedDesign), "levels=%d vars=%d", bad[0], bad[1])
	}
}

func TestLatinHypercube(t *testing.T) {
	p, err := Generate(Params{Design: LatinHypercube, Variables: 3, Points: 10, Seed: 42})
	require.NoError(t, err)
	require.Len(t, p.Rows, 10)
	assert.Equal(t, int64(42), p.Params.Seed)

	for d := 0; d < 3; d++ {
		strata := make([]int, 0, 10)
		for _, r := range p.Rows {
			require.GreaterOrEqual(t, r[d], -1.0)
			require.LessOrEqual(t, r[d], 1.0)
			strata = append(strata, int((r[d]+1)/2*10))
		}
		sort.Ints(strata)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, strata)
	}

	again, err := Generate(Params{Design: LatinHypercube, Variables: 3, Points: 10, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, p.Rows, again.Rows)

	random, err := Generate(Params{Design: LatinHypercube, Variables: 1, Points: 2})
	require.NoError(t, err)
	assert.NotZero(t, random.Params.Seed)

	// stored normalized, read back in real units
	lhs, err := Generate(Params{Design: LatinHypercube, Variables: 2, Points: 6, Seed: 3})
	require.NoError(t, err)
	tbl := newTable(t)
	require.NoError(t, tbl.AddPoints(lhs))
	for i, r := range tbl.Rows() {
		assert.Equal(t, lhs.Rows[i], r.Values)
		x := tbl.RealValues(r)
		assert.InDelta(t, 5+5*r.Values[0], x[0], 1e-12)
		assert.InDelta(t, r.Values[1], x[1], 1e-12)
	}
}

func TestDenormalizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		a := rng.Float64()*200 - 100
		b := a + rng.Float64()*50
		bound := formulation.Bound{Min: a, Max: b}
		v := rng.Float64()*2 - 1
		x := Denormalize(v, bound)
		assert.GreaterOrEqual(t, x, a-1e-12)
		assert.LessOrEqual(t, x, b+1e-12)
		assert.InDelta(t, v, Normalize(x, bound), 1e-12)
	}
	assert.Equal(t, 0.25, Denormalize(0.25, formulation.Bound{}))
	assert.Equal(t, 3.0, Denormalize(-1, formulation.Bound{Min: 3, Max: 7}))
	assert.Equal(t, 7.0, Denormalize(1, formulation.Bound{Min: 3, Max: 7}))
}

func newTable(t *testing.T, funcs ...FunctionColumn) *Table {
	t.Helper()
	vars := []formulation.Variable{
		{Name: "X1", Min: 0, Max: 10, Kind: formulation.KindReal, Increment: formulation.DefaultIncrement},
		{Name: "X2", Min: -1, Max: 1, Kind: formulation.KindReal, Increment: formulation.DefaultIncrement},
	}
	tbl, err := NewTable(vars, funcs, formulation.Options{})
	require.NoError(t, err)
	return tbl
}

func TestTableEditing(t *testing.T) {
	tbl := newTable(t, FunctionColumn{Name: "F1", Body: "X1 + 2*X2"})

	p, err := Generate(Params{Design: Factorial, Variables: 2, Levels: 2})
	require.NoError(t, err)
	require.NoError(t, tbl.AddPoints(p))
	require.Len(t, tbl.Rows(), 4)
	assert.Equal(t, 2, tbl.Levels())

	// (-1,-1) -> X1=0, X2=-1
	assert.InDelta(t, -2, tbl.Rows()[0].Functions[0], 1e-12)

	idx, err := tbl.AddRow([]float64{0, 0}, OriginUser)
	require.NoError(t, err)
	assert.Equal(t, 5, idx)
	assert.InDelta(t, 5, tbl.Rows()[4].Functions[0], 1e-12)

	require.NoError(t, tbl.SetRealValue(idx, 0, 10))
	r := tbl.Rows()[4]
	assert.Equal(t, 1.0, r.Values[0])
	assert.Equal(t, OriginUser, r.Origin)
	assert.InDelta(t, 10, r.Functions[0], 1e-12)

	require.NoError(t, tbl.RemoveRow(2))
	assert.Len(t, tbl.Rows(), 4)
	assert.Error(t, tbl.RemoveRow(2))

	_, err = tbl.AddRow([]float64{0}, OriginUser)
	assert.True(t, apperr.IsKind(err, apperr.DimensionMismatch))
	assert.Error(t, tbl.SetRealValue(idx, 5, 0))

	x, y, err := tbl.Data("f1")
	require.NoError(t, err)
	assert.Len(t, x, 4)
	assert.Equal(t, []float64{10, 0}, x[3])
	assert.InDelta(t, 10, y[3], 1e-12)

	_, _, err = tbl.Data("F9")
	assert.True(t, apperr.IsKind(err, apperr.UnresolvedReference))
}

func TestEvaluationFailureWritesZero(t *testing.T) {
	tbl := newTable(t, FunctionColumn{Name: "F1", Body: "log(X1)"}, FunctionColumn{Name: "F2", Body: "X2"})
	_, err := tbl.AddRow([]float64{-1, 0.5}, OriginUser) // X1 = 0
	require.NoError(t, err)
	_, err = tbl.AddRow([]float64{0, 0.5}, OriginUser)
	require.NoError(t, err)

	warnings := tbl.Evaluate()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Error(), "row 1")
	assert.Equal(t, 0.0, tbl.Rows()[0].Functions[0])
	assert.Equal(t, 0.5, tbl.Rows()[0].Functions[1])
	assert.InDelta(t, math.Log(5), tbl.Rows()[1].Functions[0], 1e-12)

	warnings, err = tbl.SetFunctions([]FunctionColumn{{Name: "F1", Body: "X1*X2"}})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.InDelta(t, 2.5, tbl.Rows()[1].Functions[0], 1e-12)

	_, err = tbl.SetFunctions([]FunctionColumn{{Name: "F1", Body: "X1 + Y"}})
	assert.Error(t, err)
	assert.Len(t, tbl.Functions(), 1)
}

const sampleDOE = `# sample
$ generated by hand
3 2 3 1
1 -1 -1 -1
2 0 0 5 0 5
3 1 1 10 1 11
| bounds
X1: 0, 10
X2: -1, 1, REAL, 0.01
/ functions
F1 = X1 +
  X2;
`

func TestReadWriteDOE(t *testing.T) {
	tbl, err := ReadDOE(sampleDOE, formulation.Options{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows(), 3)
	assert.Equal(t, 3, tbl.Levels())
	assert.Equal(t, []string{"X1", "X2"}, tbl.VariableNames())
	assert.Equal(t, 0.01, tbl.Variables()[1].Increment)
	assert.Equal(t, "X1 + X2", tbl.Functions()[0].Body)

	// the real block of row 2 is discarded
	assert.Equal(t, []float64{0, 0}, tbl.Rows()[1].Values)
	assert.Equal(t, []float64{5}, tbl.Rows()[1].Functions)

	out := tbl.WriteDOE()
	assert.True(t, strings.HasPrefix(out, "3 2 3 1\n"), out)
	assert.Contains(t, out, "2 0 0 5 0 5\n")
	assert.Contains(t, out, "F1 = X1 + X2;\n")

	again, err := ReadDOE(out, formulation.Options{})
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows(), again.Rows())
	assert.Equal(t, tbl.Variables(), again.Variables())
}

func TestReadDOEErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", "# nothing\n"},
		{"short header", "1 2 3\n"},
		{"bad header", "1 a 3 0\n"},
		{"missing rows", "2 1 2 0\n1 -1\nX1: 0, 1\n"},
		{"field count", "1 1 2 0\n1 -1 2 3 4\nX1: 0, 1\n"},
		{"bad value", "1 1 2 0\n1 abc\nX1: 0, 1\n"},
		{"bad bound", "1 1 2 0\n1 -1\nX1 0 1\n"},
		{"missing semicolon", "1 1 2 1\n1 -1 0\nX1: 0, 1\nF1 = X1\n"},
		{"function count", "1 1 2 2\n1 -1 0 0\nX1: 0, 1\nF1 = X1;\n"},
		{"unresolved", "1 1 2 1\n1 -1 0\nX1: 0, 1\nF1 = X9;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadDOE(tt.text, formulation.Options{})
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.ParseError) || apperr.IsKind(err, apperr.UnresolvedReference), err.Error())
		})
	}
}

func TestParseDesign(t *testing.T) {
	d, err := ParseDesign(" LHS ")
	require.NoError(t, err)
	assert.Equal(t, LatinHypercube, d)

	_, err = ParseDesign("box-behnken")
	assert.True(t, apperr.IsKind(err, apperr.UnsupportedDesign))
}
