package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/logging"
)

// app carries what every subcommand needs once flags and environment are
// parsed.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	zap    *zap.Logger

	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "optbench",
		Short:         "Engineering optimization workbench",
		Long:          "optbench samples designs of experiments, fits surrogate models and finds minima or Pareto fronts of problems written in the .fnc formulation language.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides OPTBENCH_LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (json, text); overrides OPTBENCH_LOG_FORMAT")

	root.AddCommand(
		newOptimizeCmd(a),
		newDOECmd(a),
		newFitCmd(a),
		newExpandCmd(a),
		newServeCmd(a),
		newWorkerCmd(a),
	)

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return apperr.Wrap(err, apperr.InvalidArgument, "flags")
	})
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return apperr.Wrap(err, apperr.InvalidArgument, "load configuration")
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return apperr.Wrap(err, apperr.InvalidArgument, "initialize logger")
	}
	a.cfg = cfg
	a.logger = logger.WithField("env", cfg.Environment)
	a.zap = logging.NewZapLogger(a.logger)
	return nil
}
