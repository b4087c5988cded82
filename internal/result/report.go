package result

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var headings = map[string]string{
	"slsqp": "SLSQP single-objective optimization",
	"wsf":   "Weighted-sum multi-objective optimization (SLSQP)",
	"nsga2": "NSGA-II multi-objective optimization",
	"nsga3": "NSGA-III multi-objective optimization",
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', 15, 64) }

func row(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = num(v)
	}
	return strings.Join(parts, "  ")
}

func label(names []string, i int, fallback string) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("%s%d", fallback, i+1)
}

func labels(names []string, n int, fallback string) string {
	out := make([]string, n)
	for i := range out {
		out[i] = label(names, i, fallback)
	}
	return strings.Join(out, ", ")
}

// Clock renders d as hh:mm:ss, truncating fractions of a second.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// FormatReport renders the record as deterministic plain text.
func (r *Record) FormatReport() string {
	var b strings.Builder

	heading, ok := headings[r.Method]
	if !ok {
		heading = strings.ToUpper(r.Method) + " optimization"
	}
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len(heading)))
	b.WriteString("\n\n")

	switch {
	case r.Single != nil:
		r.writeSingle(&b)
	case r.Multi != nil:
		r.writeMulti(&b)
	case r.Evo != nil:
		r.writeEvo(&b)
	}

	fmt.Fprintf(&b, "\nTotal time: %s\n", Clock(r.Duration))
	return b.String()
}

func (r *Record) writeSingle(b *strings.Builder) {
	s := r.Single
	fmt.Fprintf(b, "Objective %s = %s\n", label(r.Names.Objectives, 0, "F"), num(s.Objective))

	if len(s.Equality) > 0 {
		b.WriteString("\nEquality constraints\n")
		for i, v := range s.Equality {
			fmt.Fprintf(b, "  equality %d (%s) = %s\n", i+1, label(r.Names.Equality, i, "H"), num(v))
		}
	}
	if len(s.Inequality) > 0 {
		b.WriteString("\nInequality constraints\n")
		for i, v := range s.Inequality {
			fmt.Fprintf(b, "  inequality %d (%s) = %s\n", i+1, label(r.Names.Inequality, i, "G"), num(v))
		}
	}

	b.WriteString("\nSolution\n")
	for i, v := range s.Solution {
		fmt.Fprintf(b, "  %s = %s\n", label(r.Names.Variables, i, "X"), num(v))
	}
	if len(s.Jacobian) > 0 {
		fmt.Fprintf(b, "\nGradient at solution\n  %s\n", row(s.Jacobian))
	}
}

func (r *Record) writeFront(b *strings.Builder, front, solutions [][]float64) {
	m := 0
	if len(front) > 0 {
		m = len(front[0])
	}
	fmt.Fprintf(b, "Pareto front (%d points): %s\n", len(front), labels(r.Names.Objectives, m, "F"))
	for i, p := range front {
		fmt.Fprintf(b, "  %4d  %s\n", i+1, row(p))
	}

	k := len(r.Names.Variables)
	if len(solutions) > 0 {
		k = len(solutions[0])
	}
	fmt.Fprintf(b, "\nSolutions: %s\n", labels(r.Names.Variables, k, "X"))
	for i, x := range solutions {
		fmt.Fprintf(b, "  %4d  %s\n", i+1, row(x))
	}
}

func (r *Record) writeMulti(b *strings.Builder) {
	s := r.Multi
	fmt.Fprintf(b, "w_min %s, w_step %s, grid %d\n\n", num(s.WMin), num(s.WStep), s.Grid)
	r.writeFront(b, s.Front, s.Solutions)
	if len(s.Weights) > 0 {
		b.WriteString("\nWeights\n")
		for i, w := range s.Weights {
			fmt.Fprintf(b, "  %4d  %s\n", i+1, row(w))
		}
	}
}

func (r *Record) writeEvo(b *strings.Builder) {
	s := r.Evo
	size := "population"
	if s.Algorithm == "nsga3" {
		size = "reference directions"
	}
	fmt.Fprintf(b, "generations %d, %s %d, crossover %s, mutation %s\n\n",
		s.Generations, size, s.Population, num(s.Crossover), num(s.Mutation))
	r.writeFront(b, s.Front, s.Solutions)
}
