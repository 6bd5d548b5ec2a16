package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/metrics"
)

type fakeLock struct {
	held       bool
	acquireErr error
	releaseErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.held = false
	f.releases++
	f.releaseErr = ctx.Err()
	return nil
}

type testJob struct {
	name   string
	err    error
	panics bool
	runs   int
	ctx    context.Context
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	t.ctx = ctx
	if t.panics {
		panic("nil map write")
	}
	return t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test"})
}

// runCount reads billing_cron_job_runs_total for one job and result.
func runCount(t *testing.T, reg *prometheus.Registry, job, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "billing_cron_job_runs_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			if labels["job"] == job && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(success, failure),
		Lock:     lock,
		Metrics:  metrics.NewCronMetrics(reg),
	})
	require.NoError(t, err)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Equal(t, 1, success.runs)
	assert.Equal(t, 1, failure.runs)
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
	assert.Equal(t, 1.0, runCount(t, reg, "success", "success"))
	assert.Equal(t, 1.0, runCount(t, reg, "fail", "failure"))
	assert.Zero(t, runCount(t, reg, "fail", "success"))
}

func TestRunOnceRecoversPanickingJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	broken := &testJob{name: "broken", panics: true}
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Registry:   NewRegistry(broken, after),
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(reg),
		JobTimeout: time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Equal(t, 1, after.runs)
	assert.Equal(t, 1, lock.releases)
	assert.Equal(t, 1.0, runCount(t, reg, "broken", "failure"))

	deadline, ok := after.ctx.Deadline()
	require.True(t, ok, "jobs run under a timeout")
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestRunOnceReleasesLockAfterCancel(t *testing.T) {
	lock := &fakeLock{}
	ctx, cancel := context.WithCancel(context.Background())
	job := &cancelJob{cancel: cancel}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job, &testJob{name: "never"}),
		Lock:     lock,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, service.RunOnce(ctx), context.Canceled)
	assert.Equal(t, 1, lock.releases)
	assert.Nil(t, lock.releaseErr)
}

type cancelJob struct{ cancel context.CancelFunc }

func (c *cancelJob) Name() string { return "cancel" }

func (c *cancelJob) Run(context.Context) error {
	c.cancel()
	return nil
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{held: true}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	require.NoError(t, err)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases)
}

func TestRunOnceSurfacesLockErrors(t *testing.T) {
	job := &testJob{name: "job"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{acquireErr: errors.New("redis down")},
	})
	require.NoError(t, err)

	assert.Error(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: testLogger()})
	assert.Error(t, err)

	service, err := NewService(ServiceParams{Logger: testLogger(), Lock: &fakeLock{}})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, service.interval)
	assert.Equal(t, defaultJobTimeout, service.jobTimeout)
}
