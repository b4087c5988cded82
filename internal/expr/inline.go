package expr

import (
	"regexp"
	"sort"
	"strings"
)

// SimplifyThreshold is the text length below which derivatives are
// simplified.
const SimplifyThreshold = 250

// InlineText replaces whole-word references to the named definitions with
// their parenthesized bodies. Names are visited in reverse lexical order and
// replacement repeats until no reference remains, bounded by the number of
// definitions so a cyclic set terminates.
func InlineText(body string, defs map[string]string) string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	patterns := make([]*regexp.Regexp, len(names))
	for i, name := range names {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
	}

	for pass := 0; pass <= len(names); pass++ {
		changed := false
		for i, name := range names {
			if !patterns[i].MatchString(body) {
				continue
			}
			repl := "(" + strings.TrimSpace(defs[name]) + ")"
			body = patterns[i].ReplaceAllLiteralString(body, repl)
			changed = true
		}
		if !changed {
			break
		}
	}
	return body
}

// GradientName returns the conventional name of d fn / d variable,
// e.g. GF1_X2.
func GradientName(fn, variable string) string {
	return "G" + strings.ToUpper(fn) + "_" + strings.ToUpper(variable)
}

// Gradient differentiates body with respect to each of nvars variables. A
// derivative is simplified only when its printed form is shorter than
// SimplifyThreshold and noSimplify is false.
func Gradient(b SymbolicBackend, body Node, nvars int, noSimplify bool) []Node {
	out := make([]Node, nvars)
	for v := 0; v < nvars; v++ {
		d := b.Differentiate(body, v)
		if !noSimplify && len(b.ToString(d)) < SimplifyThreshold {
			d = b.Simplify(d)
		}
		out[v] = d
	}
	return out
}
