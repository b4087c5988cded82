package result

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

func singleRecord() *Record {
	return &Record{
		Kind:   KindSingle,
		Method: "slsqp",
		Names: Names{
			Variables:  []string{"X1", "X2"},
			Objectives: []string{"F1"},
			Equality:   []string{"F2"},
			Inequality: []string{"F3"},
		},
		Single: &Single{
			Objective:  3,
			Solution:   []float64{0, 1.5},
			Equality:   []float64{0},
			Inequality: []float64{-0.25},
			Jacobian:   []float64{0, 0},
		},
		Duration: 3723*time.Second + 400*time.Millisecond,
	}
}

func TestClock(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{999 * time.Millisecond, "00:00:00"},
		{61 * time.Second, "00:01:01"},
		{3723 * time.Second, "01:02:03"},
		{100 * time.Hour, "100:00:00"},
		{-time.Second, "00:00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clock(tt.d))
	}
}

func TestFormatSingle(t *testing.T) {
	text := singleRecord().FormatReport()
	assert.True(t, strings.HasPrefix(text, "SLSQP single-objective optimization\n"))
	assert.Contains(t, text, "Objective F1 = 3\n")
	assert.Contains(t, text, "  equality 1 (F2) = 0\n")
	assert.Contains(t, text, "  inequality 1 (F3) = -0.25\n")
	assert.Contains(t, text, "  X2 = 1.5\n")
	assert.True(t, strings.HasSuffix(text, "Total time: 01:02:03\n"))
	assert.Equal(t, text, singleRecord().FormatReport())
}

func TestFormatFronts(t *testing.T) {
	multi := &Record{
		Kind:   KindMulti,
		Method: "wsf",
		Names:  Names{Variables: []string{"X1"}, Objectives: []string{"F1", "F2"}},
		Multi: &Multi{
			Front:     [][]float64{{0, 2}, {2, 0}},
			Solutions: [][]float64{{0}, {1}},
			Weights:   [][]float64{{0.9, 0.1}, {0.1, 0.9}},
			WMin:      0.1,
			WStep:     0.1,
			Grid:      3,
		},
	}
	text := multi.FormatReport()
	assert.Contains(t, text, "w_min 0.1, w_step 0.1, grid 3")
	assert.Contains(t, text, "Pareto front (2 points): F1, F2\n")
	assert.Contains(t, text, "     2  2  0\n")
	assert.Contains(t, text, "     1  0.9  0.1\n")
	assert.Contains(t, text, "Total time: 00:00:00")

	evo := &Record{
		Kind:   KindEvo,
		Method: "nsga3",
		Evo:    &Evo{Front: [][]float64{{1, 2}}, Solutions: [][]float64{{0.5, 0.5}}, Algorithm: "nsga3", Generations: 10, Population: 13},
	}
	text = evo.FormatReport()
	assert.Contains(t, text, "NSGA-III")
	assert.Contains(t, text, "reference directions 13")
	// unnamed columns get positional labels
	assert.Contains(t, text, "Solutions: X1, X2")
}

func TestJSONRoundTrip(t *testing.T) {
	rec := singleRecord()
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, [][]float64{{3}}, got.Front())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"unknown kind", Record{Kind: "grid"}},
		{"missing payload", Record{Kind: KindMulti}},
		{"wrong payload", Record{Kind: KindEvo, Single: &Single{}}},
		{"two payloads", Record{Kind: KindSingle, Single: &Single{}, Multi: &Multi{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))
		})
	}

	_, err := Decode([]byte("{"))
	assert.True(t, apperr.IsKind(err, apperr.ParseError))
}
