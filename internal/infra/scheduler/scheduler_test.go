package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/xpcore/internal/platform/logger"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestAdd_Validation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(JobSpec{Name: "zero", Task: noop}))
	assert.Error(t, s.Add(JobSpec{Name: "nil", Interval: time.Second}))
	assert.NoError(t, s.Add(JobSpec{Name: "ok", Interval: time.Second, Task: noop}))
}

func TestRunOnStart_FiresImmediately(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Add(JobSpec{
		Name:       "reconcile",
		Interval:   time.Hour,
		RunOnStart: true,
		Task: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	s.Start()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFailingTaskKeepsScheduling(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.Add(JobSpec{
		Name:     "flaky",
		Interval: 20 * time.Millisecond,
		Task: func(context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}))
	s.Start()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown_CancelsTaskContext(t *testing.T) {
	s, err := New(logger.Nop())
	require.NoError(t, err)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.Add(JobSpec{
		Name:       "long",
		Interval:   time.Hour,
		RunOnStart: true,
		Task: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}))
	s.Start()
	<-started

	require.NoError(t, s.Shutdown())
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled on shutdown")
	}
}
