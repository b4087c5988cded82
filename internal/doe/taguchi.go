package doe

import (
	"strings"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// OrthogonalArray describes how to build one tabulated Taguchi array.
// Prime-power arrays carry the Galois field order and dimension of the
// Rao–Hamming construction; the rest carry a difference scheme that is
// expanded over the additive group of the levels.
type OrthogonalArray struct {
	Name    string
	Levels  int
	MinVars int
	MaxVars int

	// Rao–Hamming: rows are GF(Levels)^Dim, columns the normalized nonzero
	// vectors of the same space.
	Dim int

	// Difference scheme expansion. Scheme rows are strings of level digits;
	// Lead selects the columns prepended to each expanded block.
	Scheme []string
	Kron   bool
	Lead   leadKind
}

type leadKind int

const (
	leadNone leadKind = iota
	leadCyclic
	leadL18
)

var (
	schemeD6  = []string{"000000", "022101", "001122", "021210", "010221", "012012"}
	schemeD8  = []string{"00000000", "01120233", "02133012", "00212313", "01332120", "02321301", "03201132", "03013221"}
	schemeD10 = []string{"0000000000", "0220144331", "0024213413", "0212303144", "0143120243", "0132432401", "0314421032", "0341012324", "0433241120", "0401334212"}
	schemeD12 = []string{"000000000000", "001220112021", "011022201120", "012102102012", "001112210202", "010010222211", "021202020111", "002111022120", "022021110210", "010201011222", "020120121102", "022211201001"}
)

// Catalog lists the supported arrays in lookup order. The first entry whose
// level count and variable range match wins, so L36 is only reachable by
// name.
var Catalog = []OrthogonalArray{
	{Name: "L4", Levels: 2, MinVars: 1, MaxVars: 3, Dim: 2},
	{Name: "L8", Levels: 2, MinVars: 4, MaxVars: 7, Dim: 3},
	{Name: "L12", Levels: 2, MinVars: 8, MaxVars: 11},
	{Name: "L16", Levels: 2, MinVars: 12, MaxVars: 15, Dim: 4},
	{Name: "L32", Levels: 2, MinVars: 16, MaxVars: 31, Dim: 5},

	{Name: "L9", Levels: 3, MinVars: 1, MaxVars: 4, Dim: 2},
	{Name: "L18", Levels: 3, MinVars: 5, MaxVars: 7, Scheme: schemeD6, Lead: leadCyclic},
	{Name: "L27", Levels: 3, MinVars: 8, MaxVars: 13, Dim: 3},
	{Name: "L36", Levels: 3, MinVars: 8, MaxVars: 13, Scheme: schemeD12, Lead: leadCyclic},
	{Name: "L54", Levels: 3, MinVars: 14, MaxVars: 25, Scheme: schemeD6, Kron: true, Lead: leadL18},
	{Name: "L81", Levels: 3, MinVars: 26, MaxVars: 40, Dim: 4},

	{Name: "L16", Levels: 4, MinVars: 1, MaxVars: 5, Dim: 2},
	{Name: "L32", Levels: 4, MinVars: 6, MaxVars: 9, Scheme: schemeD8, Lead: leadCyclic},
	{Name: "L64", Levels: 4, MinVars: 10, MaxVars: 21, Dim: 3},

	{Name: "L25", Levels: 5, MinVars: 1, MaxVars: 6, Dim: 2},
	{Name: "L50", Levels: 5, MinVars: 7, MaxVars: 11, Scheme: schemeD10, Lead: leadCyclic},
}

// LookupArray finds the catalog array for (levels, vars).
func LookupArray(levels, vars int) (OrthogonalArray, error) {
	for _, a := range Catalog {
		if a.Levels == levels && vars >= a.MinVars && vars <= a.MaxVars {
			return a, nil
		}
	}
	return OrthogonalArray{}, apperr.Errorf(apperr.UnsupportedDesign, "no Taguchi array for %d levels and %d variables", levels, vars)
}

// ArrayByName finds an array by name and level count, e.g. ("L36", 3).
func ArrayByName(name string, levels int) (OrthogonalArray, error) {
	for _, a := range Catalog {
		if strings.EqualFold(a.Name, name) && a.Levels == levels {
			return a, nil
		}
	}
	return OrthogonalArray{}, apperr.Errorf(apperr.UnsupportedDesign, "no %d-level Taguchi array named %s", levels, name)
}

// gf4Mul is multiplication in GF(4) = GF(2)[w]/(w^2+w+1) with elements
// 0, 1, w, w+1 numbered 0..3. Addition is XOR.
var gf4Mul = [4][4]int{
	{0, 0, 0, 0},
	{0, 1, 2, 3},
	{0, 2, 3, 1},
	{0, 3, 1, 2},
}

type field int

func (q field) add(a, b int) int {
	if q == 4 {
		return a ^ b
	}
	return (a + b) % int(q)
}

func (q field) mul(a, b int) int {
	if q == 4 {
		return gf4Mul[a][b]
	}
	return (a * b) % int(q)
}

// tuples enumerates GF(q)^t with the last coordinate cycling fastest.
func tuples(q, t int) [][]int {
	total := 1
	for i := 0; i < t; i++ {
		total *= q
	}
	out := make([][]int, total)
	for n := 0; n < total; n++ {
		v := make([]int, t)
		r := n
		for i := t - 1; i >= 0; i-- {
			v[i] = r % q
			r /= q
		}
		out[n] = v
	}
	return out
}

func raoHamming(q, t int) [][]int {
	f := field(q)
	var cols [][]int
	for _, v := range tuples(q, t) {
		for _, x := range v {
			if x != 0 {
				if x == 1 {
					cols = append(cols, v)
				}
				break
			}
		}
	}
	rows := tuples(q, t)
	out := make([][]int, len(rows))
	for i, u := range rows {
		row := make([]int, len(cols))
		for j, v := range cols {
			s := 0
			for k := range u {
				s = f.add(s, f.mul(u[k], v[k]))
			}
			row[j] = s
		}
		out[i] = row
	}
	return out
}

func parseScheme(rows []string) [][]int {
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = make([]int, len(r))
		for j, c := range r {
			out[i][j] = int(c - '0')
		}
	}
	return out
}

// kron combines two difference schemes: entry (ra,rb),(c,d) is A[ra][c]+B[rb][d].
func kron(a, b [][]int, q field) [][]int {
	var out [][]int
	for _, ra := range a {
		for _, rb := range b {
			row := make([]int, 0, len(ra)*len(rb))
			for _, x := range ra {
				for _, y := range rb {
					row = append(row, q.add(x, y))
				}
			}
			out = append(out, row)
		}
	}
	return out
}

// expand develops a difference scheme over the group: scheme row i produces
// q rows lead[i] ++ (d_i + g) for g = 0..q-1.
func expand(d [][]int, q int, lead [][]int) [][]int {
	f := field(q)
	out := make([][]int, 0, len(d)*q)
	for i, row := range d {
		for g := 0; g < q; g++ {
			r := append([]int(nil), lead[i]...)
			for _, x := range row {
				r = append(r, f.add(x, g))
			}
			out = append(out, r)
		}
	}
	return out
}

func cyclicLead(n, q int) [][]int {
	lead := make([][]int, n)
	for i := range lead {
		lead[i] = []int{i % q}
	}
	return lead
}

// Build returns the array as rows of level indices 0..Levels-1.
func (a OrthogonalArray) Build() [][]int {
	q := a.Levels
	switch {
	case a.Dim > 0:
		return raoHamming(q, a.Dim)
	case a.Scheme == nil:
		return plackettBurman12()
	}

	d := parseScheme(a.Scheme)
	if a.Kron {
		d3 := make([][]int, q)
		for x := 0; x < q; x++ {
			d3[x] = make([]int, q)
			for y := 0; y < q; y++ {
				d3[x][y] = field(q).mul(x, y)
			}
		}
		d = kron(d3, d, field(q))
	}

	var lead [][]int
	switch a.Lead {
	case leadCyclic:
		lead = cyclicLead(len(d), q)
	case leadL18:
		lead = expand(parseScheme(schemeD6), q, cyclicLead(len(schemeD6), q))
	default:
		lead = make([][]int, len(d))
	}
	return expand(d, q, lead)
}

// plackettBurman12 is the 12-run two-level array: cyclic shifts of the
// generator plus a row of zeros.
func plackettBurman12() [][]int {
	g := []int{1, 1, 0, 1, 1, 1, 0, 0, 0, 1, 0}
	rows := make([][]int, 0, 12)
	for i := 0; i < 11; i++ {
		row := make([]int, 11)
		for j := range row {
			row[j] = g[((j-i)%11+11)%11]
		}
		rows = append(rows, row)
	}
	return append(rows, make([]int, 11))
}

// Taguchi returns the normalized rows of the orthogonal array for
// (levels, vars), using its first vars columns.
func Taguchi(levels, vars int) ([][]float64, OrthogonalArray, error) {
	a, err := LookupArray(levels, vars)
	if err != nil {
		return nil, OrthogonalArray{}, err
	}
	return taguchiPoints(a, vars), a, nil
}

func taguchiPoints(a OrthogonalArray, vars int) [][]float64 {
	values := LevelValues(a.Levels)
	rows := a.Build()
	out := make([][]float64, len(rows))
	for i, r := range rows {
		p := make([]float64, vars)
		for j := 0; j < vars; j++ {
			p[j] = values[r[j]]
		}
		out[i] = p
	}
	return out
}
