package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/formulation"
)

// State is the lifecycle state of a job.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Status is a snapshot of one job.
type Status struct {
	Handle   string     `json:"handle"`
	Method   string     `json:"method"`
	State    State      `json:"state"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
	// Message is set once the worker has exited.
	Message *Message `json:"message,omitempty"`
}

// Done reports whether the job has left the running state.
func (s Status) Done() bool { return s.State != StateRunning }

// Options configures a Runner.
type Options struct {
	// Path is the worker binary. Empty means the running executable.
	Path string
	// Args are passed to the worker. Nil means the single argument "worker".
	Args []string
	// Env replaces the worker environment when set.
	Env []string
	// Stderr receives the worker's log output. Nil means os.Stderr.
	Stderr     io.Writer
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

type job struct {
	status    Status
	cmd       *exec.Cmd
	stdout    bytes.Buffer
	cancelled bool
	done      chan struct{}
}

// Runner starts at most one worker at a time and keeps the status of every
// job it started.
type Runner struct {
	path    string
	args    []string
	env     []string
	stderr  io.Writer
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	jobs   map[string]*job
	active *job
}

// NewRunner returns a runner for the given worker command.
func NewRunner(opts Options) (*Runner, error) {
	path := opts.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.WorkerFailure, "locate worker executable")
		}
		path = exe
	}
	args := opts.Args
	if args == nil {
		args = []string{"worker"}
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		path:    path,
		args:    args,
		env:     opts.Env,
		stderr:  stderr,
		logger:  logger.Named("jobs"),
		metrics: NewMetrics(opts.Registerer),
		jobs:    make(map[string]*job),
	}, nil
}

// Start validates the request, launches a worker and returns the job handle.
// It fails while another job is running.
func (r *Runner) Start(method, text string, s config.Settings) (string, error) {
	const op = "Runner.Start"

	s.Method = strings.ToLower(method)
	if err := s.Validate(); err != nil {
		return "", err
	}
	if _, err := formulation.Parse(text, formulation.Options{Backend: s.Backend, NoSimplify: s.NoSimplify}); err != nil {
		return "", err
	}
	payload, err := json.Marshal(Request{Formulation: text, Settings: s})
	if err != nil {
		return "", apperr.Wrap(err, apperr.InvalidArgument, "encode worker request").WithOperation(op)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return "", apperr.Errorf(apperr.InvalidArgument, "job %s is still running", r.active.status.Handle).WithOperation(op)
	}

	j := &job{done: make(chan struct{})}
	j.cmd = exec.Command(r.path, r.args...)
	if r.env != nil {
		j.cmd.Env = r.env
	}
	j.cmd.Stdin = bytes.NewReader(payload)
	j.cmd.Stdout = &j.stdout
	j.cmd.Stderr = r.stderr
	if err := j.cmd.Start(); err != nil {
		return "", apperr.Wrap(err, apperr.WorkerFailure, "start worker").WithOperation(op)
	}

	j.status = Status{
		Handle:  uuid.NewString(),
		Method:  s.Method,
		State:   StateRunning,
		Started: time.Now(),
	}
	r.jobs[j.status.Handle] = j
	r.active = j
	r.metrics.Started.Inc()
	r.metrics.Active.Inc()
	r.logger.Info("job started",
		zap.String("handle", j.status.Handle),
		zap.String("method", s.Method),
		zap.Int("pid", j.cmd.Process.Pid),
	)

	go r.wait(j)
	return j.status.Handle, nil
}

func (r *Runner) wait(j *job) {
	waitErr := j.cmd.Wait()
	msg, decodeErr := DecodeMessage(j.stdout.Bytes())

	r.mu.Lock()
	switch {
	case j.cancelled:
		msg = CancelledMessage()
	case decodeErr != nil && waitErr != nil:
		msg = Failure(apperr.Wrap(waitErr, apperr.WorkerFailure, "worker crashed"))
	case decodeErr != nil:
		msg = Failure(decodeErr)
	}
	now := time.Now()
	j.status.Finished = &now
	j.status.Message = msg
	switch msg.Kind {
	case MessageSuccess:
		j.status.State = StateSucceeded
	case MessageCancelled:
		j.status.State = StateCancelled
	default:
		j.status.State = StateFailed
	}
	if r.active == j {
		r.active = nil
	}
	status := j.status
	r.mu.Unlock()

	elapsed := now.Sub(status.Started)
	r.metrics.Active.Dec()
	r.metrics.Finished.WithLabelValues(string(status.State)).Inc()
	r.metrics.Duration.Observe(elapsed.Seconds())
	close(j.done)

	fields := []zap.Field{
		zap.String("handle", status.Handle),
		zap.String("state", string(status.State)),
		zap.Duration("elapsed", elapsed),
	}
	if status.State == StateFailed {
		r.logger.Warn("job failed", append(fields, zap.String("error", msg.Error))...)
		return
	}
	r.logger.Info("job finished", fields...)
}

func (r *Runner) lookup(handle, op string) (*job, error) {
	j, ok := r.jobs[handle]
	if !ok {
		return nil, apperr.Errorf(apperr.InvalidArgument, "unknown job %q", handle).WithOperation(op)
	}
	return j, nil
}

// Poll returns the current status of a job without blocking.
func (r *Runner) Poll(handle string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.lookup(handle, "Runner.Poll")
	if err != nil {
		return Status{}, err
	}
	return j.status, nil
}

// Active returns the handle of the running job, if any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.status.Handle, true
}

// Cancel kills the worker of a running job and waits for it to exit. The job
// ends in StateCancelled with no record. Cancelling a finished job is a
// no-op.
func (r *Runner) Cancel(handle string) error {
	const op = "Runner.Cancel"

	r.mu.Lock()
	j, err := r.lookup(handle, op)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if j.status.State != StateRunning {
		r.mu.Unlock()
		return nil
	}
	j.cancelled = true
	proc := j.cmd.Process
	r.mu.Unlock()

	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return apperr.Wrap(err, apperr.WorkerFailure, "kill worker").WithOperation(op)
	}
	<-j.done
	r.logger.Info("job cancelled", zap.String("handle", handle))
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, handle string) (Status, error) {
	r.mu.Lock()
	j, err := r.lookup(handle, "Runner.Wait")
	r.mu.Unlock()
	if err != nil {
		return Status{}, err
	}
	select {
	case <-j.done:
		return r.Poll(handle)
	case <-ctx.Done():
		return Status{}, apperr.Wrap(ctx.Err(), apperr.Cancelled, "wait for job").WithOperation("Runner.Wait")
	}
}

// Close cancels the running job, if any.
func (r *Runner) Close() error {
	if handle, ok := r.Active(); ok {
		return r.Cancel(handle)
	}
	return nil
}
