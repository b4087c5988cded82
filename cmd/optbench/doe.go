package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/doe"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
)

type doeOptions struct {
	design  string
	levels  int
	points  int
	seed    int64
	array   string
	vars    []string
	funcs   []string
	fncPath string
	outPath string
}

func newDOECmd(a *app) *cobra.Command {
	o := &doeOptions{}
	cmd := &cobra.Command{
		Use:   "doe",
		Short: "Generate a design of experiments and write it as a .doe table",
		Example: `  optbench doe --design factorial --levels 3 --var "X1: 0, 10" --var "X2: -1, 1" --func "F1 = X1*X2"
  optbench doe --design lhs --points 20 --seed 7 --fnc beam.fnc -o beam.doe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.generateDOE(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.design, "design", "d", string(doe.Factorial), "factorial, cc-spherical, cc-face-centered, taguchi or lhs")
	f.IntVarP(&o.levels, "levels", "l", 2, "levels per variable (factorial, taguchi)")
	f.IntVarP(&o.points, "points", "n", 10, "number of points (lhs)")
	f.Int64Var(&o.seed, "seed", 0, "latin hypercube seed; 0 picks one and reports it")
	f.StringVar(&o.array, "array", "", "force a Taguchi array by name, e.g. L36")
	f.StringArrayVar(&o.vars, "var", nil, `variable as "NAME: min, max"; repeatable`)
	f.StringArrayVar(&o.funcs, "func", nil, `function column as "NAME = body"; repeatable`)
	f.StringVar(&o.fncPath, "fnc", "", "take variables and objective/constraint columns from a formulation")
	f.StringVarP(&o.outPath, "output", "o", "", "write the table to a file instead of stdout")
	return cmd
}

// columns resolves the variables and function columns from the flags and
// the optional formulation file.
func (o *doeOptions) columns(logger *zap.Logger) ([]formulation.Variable, []doe.FunctionColumn, error) {
	var (
		vars  []formulation.Variable
		funcs []doe.FunctionColumn
	)
	if o.fncPath != "" {
		text, err := os.ReadFile(o.fncPath)
		if err != nil {
			return nil, nil, apperr.Wrapf(err, apperr.InvalidArgument, "read %s", o.fncPath)
		}
		f, err := formulation.Parse(string(text), formulation.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		vars = f.Variables()
		for _, list := range [][]*formulation.Expression{f.Objectives(), f.EqualityConstraints(), f.InequalityConstraints()} {
			for _, e := range list {
				funcs = append(funcs, doe.FunctionColumn{Name: e.Name, Body: f.Expand(e.Body)})
			}
		}
	}
	for _, line := range o.vars {
		v, err := formulation.ParseVariableLine(line)
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.ParseError, "--var")
		}
		vars = append(vars, v)
	}
	for _, line := range o.funcs {
		name, body, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		body = strings.TrimSuffix(strings.TrimSpace(body), ";")
		if !ok || name == "" || body == "" {
			return nil, nil, apperr.Errorf(apperr.ParseError, "function column %q is not NAME = body", line)
		}
		funcs = append(funcs, doe.FunctionColumn{Name: name, Body: body})
	}
	if len(vars) == 0 {
		return nil, nil, apperr.New(apperr.InvalidArgument, "no variables: use --var or --fnc")
	}
	return vars, funcs, nil
}

func (a *app) generateDOE(cmd *cobra.Command, o *doeOptions) error {
	design, err := doe.ParseDesign(o.design)
	if err != nil {
		return err
	}
	vars, funcs, err := o.columns(a.zap)
	if err != nil {
		return err
	}
	tbl, err := doe.NewTable(vars, funcs, formulation.Options{Logger: a.zap})
	if err != nil {
		return err
	}
	points, err := doe.Generate(doe.Params{
		Design:    design,
		Variables: len(vars),
		Levels:    o.levels,
		Points:    o.points,
		Seed:      o.seed,
		Array:     o.array,
	})
	if err != nil {
		return err
	}
	if err := tbl.AddPoints(points); err != nil {
		return err
	}
	for _, w := range tbl.Evaluate() {
		a.logger.Warn("Function evaluation failed", map[string]interface{}{"error": w.Error()})
	}

	fields := map[string]interface{}{"design": string(design), "rows": len(tbl.Rows())}
	if points.ArrayName != "" {
		fields["array"] = points.ArrayName
	}
	if design == doe.LatinHypercube {
		fields["seed"] = points.Params.Seed
	}
	a.logger.Info("Design generated", fields)

	text := tbl.WriteDOE()
	if o.outPath == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}
	if err := os.WriteFile(o.outPath, []byte(text), 0o644); err != nil {
		return apperr.Wrapf(err, apperr.InvalidArgument, "write %s", o.outPath)
	}
	return nil
}
