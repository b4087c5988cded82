// Package result holds the uniform record every optimization method returns
// and renders it as a plain-text report.
package result

import (
	"encoding/json"
	"time"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// Kind tags the payload of a Record.
type Kind string

const (
	KindSingle Kind = "single"
	KindMulti  Kind = "multi"
	KindEvo    Kind = "evo"
)

// Single is the outcome of a single-objective run.
type Single struct {
	Objective  float64   `json:"objective"`
	Solution   []float64 `json:"solution"`
	Equality   []float64 `json:"equality"`
	Inequality []float64 `json:"inequality"`
	// Jacobian is the objective gradient at the solution.
	Jacobian []float64 `json:"jacobian"`
}

// Multi is the outcome of a weighted-sum sweep. Front[i], Solutions[i] and
// Weights[i] belong to the same weight tuple.
type Multi struct {
	Front     [][]float64 `json:"front"`
	Solutions [][]float64 `json:"solutions"`
	Weights   [][]float64 `json:"weights"`
	WMin      float64     `json:"w_min"`
	WStep     float64     `json:"w_step"`
	Grid      int         `json:"grid"`
}

// Evo is the final non-dominated front of an evolutionary run.
type Evo struct {
	Front       [][]float64 `json:"front"`
	Solutions   [][]float64 `json:"solutions"`
	Algorithm   string      `json:"algorithm"`
	Generations int         `json:"generations"`
	Crossover   float64     `json:"crossover"`
	Mutation    float64     `json:"mutation"`
	// Population is the population size for NSGA-II and the number of
	// reference directions for NSGA-III.
	Population int `json:"population"`
}

// Names labels the rows of a report.
type Names struct {
	Variables  []string `json:"variables"`
	Objectives []string `json:"objectives"`
	Equality   []string `json:"equality"`
	Inequality []string `json:"inequality"`
}

// Record is the tagged result of one optimization job. Exactly one of
// Single, Multi and Evo is set, matching Kind.
type Record struct {
	Kind     Kind          `json:"kind"`
	Method   string        `json:"method"`
	Names    Names         `json:"names"`
	Single   *Single       `json:"single,omitempty"`
	Multi    *Multi        `json:"multi,omitempty"`
	Evo      *Evo          `json:"evo,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Validate checks that the payload matches the kind.
func (r *Record) Validate() error {
	const op = "Record.Validate"

	ok := false
	switch r.Kind {
	case KindSingle:
		ok = r.Single != nil && r.Multi == nil && r.Evo == nil
	case KindMulti:
		ok = r.Multi != nil && r.Single == nil && r.Evo == nil
	case KindEvo:
		ok = r.Evo != nil && r.Single == nil && r.Multi == nil
	default:
		return apperr.Errorf(apperr.InvalidArgument, "unknown record kind %q", r.Kind).WithOperation(op)
	}
	if !ok {
		return apperr.Errorf(apperr.InvalidArgument, "record payload does not match kind %q", r.Kind).WithOperation(op)
	}
	return nil
}

// Decode parses a JSON record and validates it.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, apperr.Wrap(err, apperr.ParseError, "result record")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Front returns the objective vectors of a multi or evo record, or the single
// objective value as a one-point front.
func (r *Record) Front() [][]float64 {
	switch {
	case r.Single != nil:
		return [][]float64{{r.Single.Objective}}
	case r.Multi != nil:
		return r.Multi.Front
	case r.Evo != nil:
		return r.Evo.Front
	}
	return nil
}
