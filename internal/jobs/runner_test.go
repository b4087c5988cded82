package jobs

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/optbench/internal/config"
	apperr "github.com/copyleftdev/optbench/internal/errors"
	"github.com/copyleftdev/optbench/internal/result"
)

// TestHelperProcess is the worker binary for the runner tests. It does
// nothing unless started by helperRunner.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("OPTBENCH_WORKER_HELPER") != "1" {
		return
	}
	switch os.Getenv("OPTBENCH_WORKER_MODE") {
	case "crash":
		os.Exit(3)
	case "sleep":
		_, _ = io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	if err := RunWorker(context.Background(), os.Stdin, os.Stdout, nil); err != nil {
		os.Exit(2)
	}
	os.Exit(0)
}

func helperRunner(t *testing.T, mode string, reg prometheus.Registerer) *Runner {
	t.Helper()
	r, err := NewRunner(Options{
		Path:       os.Args[0],
		Args:       []string{"-test.run=^TestHelperProcess$"},
		Env:        append(os.Environ(), "OPTBENCH_WORKER_HELPER=1", "OPTBENCH_WORKER_MODE="+mode),
		Stderr:     io.Discard,
		Logger:     zaptest.NewLogger(t),
		Registerer: reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitFor(t *testing.T, r *Runner, handle string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := r.Wait(ctx, handle)
	require.NoError(t, err)
	return st
}

func TestRunnerSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := helperRunner(t, "", reg)

	handle, err := r.Start("SLSQP", quadraticFNC, config.NewSettings(config.MethodSLSQP))
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	st := waitFor(t, r, handle)
	assert.Equal(t, StateSucceeded, st.State)
	assert.Equal(t, config.MethodSLSQP, st.Method)
	require.NotNil(t, st.Finished)
	require.NotNil(t, st.Message)
	require.NotNil(t, st.Message.Record)
	assert.Equal(t, result.KindSingle, st.Message.Record.Kind)
	assert.InDelta(t, 3, st.Message.Record.Single.Objective, 1e-8)

	_, active := r.Active()
	assert.False(t, active)
	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["optbench_jobs_started_total"])
	assert.Equal(t, 1.0, values["optbench_jobs_finished_total"])
	assert.Equal(t, 0.0, values["optbench_jobs_active"])

	// a second job may start once the first is done
	handle2, err := r.Start(config.MethodSLSQP, quadraticFNC, config.NewSettings(config.MethodSLSQP))
	require.NoError(t, err)
	assert.NotEqual(t, handle, handle2)
	assert.Equal(t, StateSucceeded, waitFor(t, r, handle2).State)
}

func TestRunnerReportsJobError(t *testing.T) {
	r := helperRunner(t, "", nil)
	two := "*VARIABLE: 1\nX1: -1, 1\n*OBJECTIVE: 2\nF1 = X1**2;\nF2 = (X1 - 1)**2;\n"

	handle, err := r.Start(config.MethodSLSQP, two, config.NewSettings(config.MethodSLSQP))
	require.NoError(t, err)
	st := waitFor(t, r, handle)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, apperr.TooManyObjectives, st.Message.ErrorKind)
	assert.True(t, apperr.IsKind(st.Message.Err(), apperr.TooManyObjectives))
}

func TestRunnerWorkerCrash(t *testing.T) {
	r := helperRunner(t, "crash", nil)

	handle, err := r.Start(config.MethodSLSQP, quadraticFNC, config.NewSettings(config.MethodSLSQP))
	require.NoError(t, err)
	st := waitFor(t, r, handle)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, apperr.WorkerFailure, st.Message.ErrorKind)
	assert.Nil(t, st.Message.Record)
}

func TestRunnerCancel(t *testing.T) {
	r := helperRunner(t, "sleep", nil)

	handle, err := r.Start(config.MethodSLSQP, quadraticFNC, config.NewSettings(config.MethodSLSQP))
	require.NoError(t, err)

	st, err := r.Poll(handle)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.False(t, st.Done())

	_, err = r.Start(config.MethodSLSQP, quadraticFNC, config.NewSettings(config.MethodSLSQP))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))

	require.NoError(t, r.Cancel(handle))
	st, err = r.Poll(handle)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, st.State)
	assert.Equal(t, MessageCancelled, st.Message.Kind)
	assert.Nil(t, st.Message.Record)

	// cancelling again is harmless
	assert.NoError(t, r.Cancel(handle))
}

func TestRunnerRejectsBadRequests(t *testing.T) {
	r := helperRunner(t, "", nil)

	_, err := r.Start("simplex", quadraticFNC, config.NewSettings(config.MethodSLSQP))
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))

	_, err = r.Start(config.MethodSLSQP, "*FOO: 1\nA = 1;\n", config.NewSettings(config.MethodSLSQP))
	assert.True(t, apperr.IsKind(err, apperr.ParseError), "%v", err)

	_, err = r.Poll("no-such-job")
	assert.True(t, apperr.IsKind(err, apperr.InvalidArgument))
	assert.True(t, apperr.IsKind(r.Cancel("no-such-job"), apperr.InvalidArgument))

	_, active := r.Active()
	assert.False(t, active)
}
