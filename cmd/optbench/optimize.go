package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/jobs"
	"github.com/copyleftdev/optbench/internal/optimization"
	"github.com/copyleftdev/optbench/internal/result"
)

type optimizeOptions struct {
	method       string
	settingsPath string
	gridSize     int
	maxIter      int
	seed         int64
	normalize    bool
	inProcess    bool
	asJSON       bool
}

func newOptimizeCmd(a *app) *cobra.Command {
	o := &optimizeOptions{}
	cmd := &cobra.Command{
		Use:   "optimize FILE.fnc",
		Short: "Minimize a formulation or compute its Pareto front",
		Long: `Runs the formulation through SLSQP multistart (slsqp), the weighted-sum
sweep (wsf), NSGA-II (nsga2) or NSGA-III (nsga3) and prints the report.

Settings come from the method defaults, the OPTBENCH_OPT_* environment, an
optional YAML file (--settings or OPTBENCH_SETTINGS) and finally the flags.
The optimization runs in a worker process unless --in-process is given;
an interrupt cancels it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.optimize(cmd, args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.method, "method", "m", "", "slsqp, wsf, nsga2 or nsga3 (default slsqp)")
	f.StringVar(&o.settingsPath, "settings", config.GetEnv("OPTBENCH_SETTINGS", ""), "YAML settings file")
	f.IntVar(&o.gridSize, "grid", 0, "multistart grid points per variable")
	f.IntVar(&o.maxIter, "max-iter", 0, "SLSQP iteration limit")
	f.Int64Var(&o.seed, "seed", 0, "random seed of the evolutionary methods")
	f.BoolVar(&o.normalize, "normalize", false, "normalize objectives to [0, 1] before weighting")
	f.BoolVar(&o.inProcess, "in-process", false, "run without a worker process")
	f.BoolVar(&o.asJSON, "json", false, "print the result record as JSON")
	return cmd
}

func (o *optimizeOptions) settings(cmd *cobra.Command, cfg *config.Config) (config.Settings, error) {
	var (
		s   config.Settings
		err error
	)
	if o.settingsPath != "" {
		if s, err = config.LoadSettings(o.settingsPath); err != nil {
			return s, err
		}
	} else {
		method := o.method
		if method == "" {
			method = config.MethodSLSQP
		}
		s = cfg.DefaultSettings(method)
	}

	flags := cmd.Flags()
	if o.method != "" {
		s.Method = o.method
	}
	if flags.Changed("grid") {
		s.GridSize = o.gridSize
	}
	if flags.Changed("max-iter") {
		s.MaxIter = o.maxIter
	}
	if flags.Changed("seed") {
		s.Seed = o.seed
	}
	if flags.Changed("normalize") {
		s.Normalize = o.normalize
	}
	return s, s.Validate()
}

func (a *app) optimize(cmd *cobra.Command, path string, o *optimizeOptions) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrapf(err, apperr.InvalidArgument, "read %s", path)
	}
	s, err := o.settings(cmd, a.cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *result.Record
	if o.inProcess {
		rec, err = a.optimizeInProcess(ctx, string(text), s)
	} else {
		rec, err = a.optimizeInWorker(ctx, string(text), s)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	_, err = out.Write([]byte(rec.FormatReport()))
	return err
}

func (a *app) optimizeInProcess(ctx context.Context, text string, s config.Settings) (*result.Record, error) {
	f, err := formulation.Parse(text, formulation.Options{Backend: s.Backend, NoSimplify: s.NoSimplify, Logger: a.zap})
	if err != nil {
		return nil, err
	}
	opt, err := optimization.New(s, optimization.WithLogger(a.zap))
	if err != nil {
		return nil, err
	}
	return opt.Optimize(ctx, f)
}

// optimizeInWorker hands the job to a worker process and polls it until it
// finishes. Cancelling ctx kills the worker.
func (a *app) optimizeInWorker(ctx context.Context, text string, s config.Settings) (*result.Record, error) {
	runner, err := jobs.NewRunner(jobs.Options{
		Path:   a.cfg.Worker.Path,
		Stderr: os.Stderr,
		Logger: a.zap,
	})
	if err != nil {
		return nil, err
	}
	handle, err := runner.Start(s.Method, text, s)
	if err != nil {
		return nil, err
	}

	interval := a.cfg.Worker.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.zap.Info("cancelling job", zap.String("handle", handle))
			if err := runner.Cancel(handle); err != nil {
				return nil, err
			}
			return nil, apperr.New(apperr.Cancelled, "optimization cancelled")
		case <-ticker.C:
		}
		st, err := runner.Poll(handle)
		if err != nil {
			return nil, err
		}
		if !st.Done() {
			continue
		}
		if err := st.Message.Err(); err != nil {
			return nil, err
		}
		return st.Message.Record, nil
	}
}
