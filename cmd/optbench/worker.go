package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/optbench/internal/jobs"
	"github.com/copyleftdev/optbench/internal/logging"
)

// newWorkerCmd is the process the job runner re-executes. It reads one
// request on stdin and writes one message on stdout; logs go to stderr.
func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one optimization job from stdin (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := a.logger
			if a.cfg.Logging.Output == "stdout" {
				var err error
				if logger, err = logging.NewLogger(&logging.Config{
					Level:  a.cfg.Logging.Level,
					Format: a.cfg.Logging.Format,
					Output: "stderr",
				}); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return jobs.RunWorker(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), logging.NewZapLogger(logger.WithField("pid", os.Getpid())))
		},
	}
}
