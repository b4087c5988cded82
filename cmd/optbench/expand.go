package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
)

func newExpandCmd(a *app) *cobra.Command {
	var (
		backend    string
		noSimplify bool
	)
	cmd := &cobra.Command{
		Use:   "expand FILE.fnc",
		Short: "Check a formulation and print it with derived gradients",
		Long: `Parses and compiles the formulation, then prints it back in canonical .fnc
form with the derived gradient of every objective and constraint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return apperr.Wrapf(err, apperr.InvalidArgument, "read %s", args[0])
			}
			f, err := formulation.Parse(string(text), formulation.Options{
				Backend:    backend,
				NoSimplify: noSimplify,
				Logger:     a.zap,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), f.GenerateFNC())
			return err
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "native", "symbolic backend: native or evaluable")
	cmd.Flags().BoolVar(&noSimplify, "no-simplify", false, "do not simplify derived gradients")
	return cmd
}
