package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/optbench/internal/config"
	"github.com/copyleftdev/optbench/internal/formulation"
)

const singleFNC = `
*VARIABLE: 1
X1: -5, 5
*OBJECTIVE: 1
F1 = X1**2 + 3;
`

const constrainedFNC = `
*VARIABLE: 2
X1: 0, 5
X2: 0, 5
*OBJECTIVE: 1
F1 = (X1 - 1)**2 + (X2 - 1)**2;
*EQUALITY-CONSTRAINT: 1
F2 = X1 + X2 - 2;
`

const twoObjectiveFNC = `
*VARIABLE: 2
X1: -2, 2
X2: -2, 2
*OBJECTIVE: 2
F1 = X1**2 + X2**2;
F2 = (X1 - 1)**2 + (X2 - 1)**2;
`

func mustParse(t *testing.T, text string) *formulation.Formulation {
	t.Helper()
	f, err := formulation.Parse(text, formulation.Options{})
	require.NoError(t, err)
	return f
}

func settings(method string, edit func(*config.Settings)) config.Settings {
	s := config.NewSettings(method)
	if edit != nil {
		edit(&s)
	}
	return s
}

// assertOnTwoCircleFront checks that a point of the two-objective problem
// lies on its Pareto curve sqrt(F1) + sqrt(F2) = sqrt(2).
func assertOnTwoCircleFront(t *testing.T, point []float64, tol float64) {
	t.Helper()
	require.Len(t, point, 2)
	for _, v := range point {
		if v < -tol || v > 2+tol {
			t.Fatalf("objective %v outside [0, 2] in %v", v, point)
		}
	}
	s := math.Sqrt(math.Max(point[0], 0)) + math.Sqrt(math.Max(point[1], 0))
	if math.Abs(s-math.Sqrt2) > tol {
		t.Fatalf("point %v is off the front: sqrt sum %v (tolerance %v)", point, s, tol)
	}
}
