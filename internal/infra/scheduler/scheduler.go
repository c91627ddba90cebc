// Package scheduler runs periodic background jobs, such as the reconciliation
// sweep, on a gocron scheduler. Each job runs in singleton mode: a run that
// is still in progress causes the next tick to be skipped.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tutu-network/xpcore/internal/platform/logger"
)

// Task is the body of a periodic job.
type Task func(ctx context.Context) error

// JobSpec describes one periodic job.
type JobSpec struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Timeout    time.Duration // 0 means no per-run timeout
	Task       Task
}

// Scheduler owns a gocron scheduler and the context its tasks run in.
type Scheduler struct {
	s      gocron.Scheduler
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error
}

// New creates a stopped scheduler.
func New(log *logger.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		s:      s,
		log:    log.With("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Add registers a job. It starts firing once Start is called.
func (s *Scheduler) Add(spec JobSpec) error {
	if spec.Interval <= 0 {
		return fmt.Errorf("scheduler: job %q: interval must be positive", spec.Name)
	}
	if spec.Task == nil {
		return fmt.Errorf("scheduler: job %q: nil task", spec.Name)
	}

	opts := []gocron.JobOption{
		gocron.WithName(spec.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if spec.RunOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.s.NewJob(
		gocron.DurationJob(spec.Interval),
		gocron.NewTask(func() { s.run(spec) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", spec.Name, err)
	}
	s.log.Info("job registered", "job", spec.Name, "interval", spec.Interval)
	return nil
}

func (s *Scheduler) run(spec JobSpec) {
	ctx := s.ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := spec.Task(ctx); err != nil {
		s.log.Error("job failed", "job", spec.Name, "error", err, "elapsed", time.Since(start))
		return
	}
	s.log.Debug("job finished", "job", spec.Name, "elapsed", time.Since(start))
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.s.Start()
}

// Shutdown cancels running tasks and waits for them to return. Later calls
// return the first call's result.
func (s *Scheduler) Shutdown() error {
	s.stopOnce.Do(func() {
		s.cancel()
		s.stopErr = s.s.Shutdown()
	})
	return s.stopErr
}
