package jobs

import (
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
	"github.com/copyleftdev/optbench/internal/optimization"
)

// RunWorker reads one Request from in, runs it and writes one Message line
// to out. Failures of the job itself are reported in the message; the
// returned error is only about writing it.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker")

	msg := work(ctx, in, logger)
	if msg.Kind == MessageError {
		logger.Warn("job failed", zap.String("kind", msg.ErrorKind.String()), zap.String("error", msg.Error))
	}
	if err := json.NewEncoder(out).Encode(msg); err != nil {
		return apperr.Wrap(err, apperr.WorkerFailure, "write worker message")
	}
	return nil
}

func work(ctx context.Context, in io.Reader, logger *zap.Logger) (msg *Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("worker panic", zap.Any("panic", rec), zap.Stack("stack"))
			msg = Failure(apperr.Errorf(apperr.WorkerFailure, "worker panic: %v", rec))
		}
	}()

	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return Failure(apperr.Wrap(err, apperr.ParseError, "worker request"))
	}
	logger.Info("job received", zap.String("method", req.Settings.Method))

	f, err := formulation.Parse(req.Formulation, formulation.Options{
		Backend:    req.Settings.Backend,
		NoSimplify: req.Settings.NoSimplify,
		Logger:     logger,
	})
	if err != nil {
		return Failure(err)
	}
	opt, err := optimization.New(req.Settings, optimization.WithLogger(logger))
	if err != nil {
		return Failure(err)
	}
	rec, err := opt.Optimize(ctx, f)
	switch {
	case apperr.IsKind(err, apperr.Cancelled):
		return CancelledMessage()
	case err != nil:
		return Failure(err)
	}
	return Success(rec)
}
