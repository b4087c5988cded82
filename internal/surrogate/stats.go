package surrogate

import (
	"encoding/json"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat/distuv"
)

// Statistics are the goodness-of-fit measures of a surrogate. A ratio with
// a zero denominator is ±Inf, or NaN when the numerator is zero too. PRESS
// and R2Press are NaN for an interpolant, where every point has leverage one.
type Statistics struct {
	F          float64
	PValue     float64
	R2         float64
	AdjustedR2 float64
	RMSE       float64
	PRESS      float64
	R2Press    float64
}

// MarshalJSON writes non-finite measures as the strings "+Inf", "-Inf" and
// "NaN", which plain JSON numbers cannot carry.
func (s Statistics) MarshalJSON() ([]byte, error) {
	value := func(v float64) interface{} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
		return v
	}
	return json.Marshal(map[string]interface{}{
		"f":           value(s.F),
		"p_value":     value(s.PValue),
		"r2":          value(s.R2),
		"adjusted_r2": value(s.AdjustedR2),
		"rmse":        value(s.RMSE),
		"press":       value(s.PRESS),
		"r2_press":    value(s.R2Press),
	})
}

// leverageOne is how close a hat-matrix diagonal entry must be to 1 for the
// point to count as fitted exactly by construction.
const leverageOne = 1e-8

func ratio(a, b float64) float64 {
	if b == 0 {
		if a == 0 {
			return math.NaN()
		}
		if a < 0 {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	return a / b
}

// computeStatistics derives the measures from responses, fitted values, the
// hat-matrix diagonal and the parameter count p.
func computeStatistics(y, fitted, hat []float64, p int) Statistics {
	n := len(y)
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)

	var sst, sse, press float64
	for i := range y {
		d := y[i] - mean
		sst += d * d
		e := y[i] - fitted[i]
		sse += e * e
		if math.Abs(1-hat[i]) <= leverageOne {
			// the leave-one-out residual does not exist
			press = math.NaN()
			continue
		}
		pr := e / (1 - hat[i])
		press += pr * pr
	}
	ssr := sst - sse

	s := Statistics{
		R2:      1 - ratio(sse, sst),
		RMSE:    math.Sqrt(sse / float64(n)),
		PRESS:   press,
		R2Press: 1 - ratio(press, sst),
	}
	s.AdjustedR2 = 1 - ratio((1-s.R2)*float64(n-1), float64(n-p))

	dfModel, dfErr := float64(p-1), float64(n-p)
	s.F = ratio(ratio(ssr, dfModel), ratio(sse, dfErr))
	switch {
	case dfModel <= 0 || dfErr <= 0 || math.IsNaN(s.F):
		s.PValue = math.NaN()
	case math.IsInf(s.F, 1):
		s.PValue = 0
	case s.F < 0:
		s.PValue = 1
	default:
		s.PValue = 1 - distuv.F{D1: dfModel, D2: dfErr}.CDF(s.F)
	}
	return s
}
