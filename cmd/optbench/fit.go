package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/optbench/internal/doe"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/surrogate"
	"github.com/copyleftdev/optbench/internal/surrogate/kernels"
)

type fitOptions struct {
	function string
	model    string
	kernel   string
	epsilon  float64
	smooth   float64
	name     string
	quiet    bool
}

func newFitCmd(a *app) *cobra.Command {
	o := &fitOptions{}
	cmd := &cobra.Command{
		Use:   "fit FILE.doe",
		Short: "Fit a surrogate to one function column of a .doe table",
		Long: `Fits a polynomial (linear, quadratic, interaction) or radial basis function
(rbf) surrogate and prints it as a formulation function followed by the
goodness-of-fit statistics. Kernels: ` + fmt.Sprint(kernels.Names()),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fit(cmd, args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.function, "function", "f", "F1", "function column to fit")
	f.StringVarP(&o.model, "model", "m", string(surrogate.Quadratic), "linear, quadratic, interaction or rbf")
	f.StringVarP(&o.kernel, "kernel", "k", "THIN_PLATE_SPLINE", "RBF kernel")
	f.Float64Var(&o.epsilon, "epsilon", surrogate.DefaultEpsilon, "RBF shape parameter")
	f.Float64Var(&o.smooth, "smooth", 0, "RBF Tikhonov regularization")
	f.StringVar(&o.name, "name", "", "name of the emitted function (default S<function>)")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "print only the function line")
	return cmd
}

func (a *app) fit(cmd *cobra.Command, path string, o *fitOptions) error {
	kind, err := surrogate.ParseModelKind(o.model)
	if err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrapf(err, apperr.InvalidArgument, "read %s", path)
	}
	tbl, err := doe.ReadDOE(string(text), formulation.Options{Logger: a.zap})
	if err != nil {
		return err
	}
	x, y, err := tbl.Data(o.function)
	if err != nil {
		return err
	}
	fit, err := surrogate.New(x, y, surrogate.Options{
		Kind:    kind,
		Kernel:  o.kernel,
		Epsilon: o.epsilon,
		Smooth:  o.smooth,
		Names:   tbl.VariableNames(),
		Logger:  a.zap,
	})
	if err != nil {
		return err
	}

	name := o.name
	if name == "" {
		name = "S" + o.function
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, fit.Function(name))
	if o.quiet {
		return nil
	}

	g := func(v float64) string { return strconv.FormatFloat(v, 'g', 8, 64) }
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "F\t%s\tp-value\t%s\n", g(fit.Stats.F), g(fit.Stats.PValue))
	fmt.Fprintf(w, "R2\t%s\tadjusted R2\t%s\n", g(fit.Stats.R2), g(fit.Stats.AdjustedR2))
	fmt.Fprintf(w, "RMSE\t%s\tPRESS\t%s\n", g(fit.Stats.RMSE), g(fit.Stats.PRESS))
	fmt.Fprintf(w, "R2 press\t%s\t\t\n", g(fit.Stats.R2Press))
	return w.Flush()
}
