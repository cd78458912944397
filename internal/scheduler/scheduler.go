// Package scheduler runs the background jobs on cron schedules.
//
// Each registered job is owned by one goroutine reading a trigger channel
// with a buffer of one. Cron firings and manual triggers both submit
// non-blocking: while a job runs, one extra trigger queues and further ones
// are rejected, so a slow run never stacks up a backlog.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t-cloud/edge-certmon/pkg/types"
)

var (
	// ErrUnknownJob is returned for a trigger on an unregistered job name.
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobBusy is returned when a job is running and one trigger is
	// already queued.
	ErrJobBusy = errors.New("job is already running")
)

// Job is one schedulable unit of work.
type Job struct {
	Name     string
	Schedule string // standard 5-field cron expression
	Run      func(ctx context.Context) error
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
	trigger  chan struct{}

	mu           sync.Mutex
	state        types.JobState
	lastStarted  *time.Time
	lastDuration time.Duration
	lastError    string
}

// Scheduler owns the cron runner and the per-job goroutines.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]*job
	order  []string
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[string]*job),
		logger: logger.With("component", "scheduler"),
	}
}

// Register adds a job. The schedule is validated immediately; registration
// after Start is not supported.
func (s *Scheduler) Register(j Job) error {
	if _, exists := s.jobs[j.Name]; exists {
		return fmt.Errorf("job %q is already registered", j.Name)
	}
	if _, err := cron.ParseStandard(j.Schedule); err != nil {
		return fmt.Errorf("job %q has invalid schedule %q: %w", j.Name, j.Schedule, err)
	}

	s.jobs[j.Name] = &job{
		name:     j.Name,
		schedule: j.Schedule,
		run:      j.Run,
		trigger:  make(chan struct{}, 1),
		state:    types.JobIdle,
	}
	s.order = append(s.order, j.Name)
	return nil
}

// Start launches the job owner goroutines and the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, name := range s.order {
		j := s.jobs[name]

		if _, err := s.cron.AddFunc(j.schedule, func() {
			if err := s.Trigger(j.name); err != nil {
				s.logger.Warn("skipping scheduled run", "job", j.name, "reason", err)
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("scheduling job %q: %w", j.name, err)
		}

		s.wg.Add(1)
		go s.own(runCtx, j)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.order))
	return nil
}

// Stop halts cron, waits for in-flight runs, and releases the owners.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger submits a manual run. Returns ErrUnknownJob for unregistered names
// and ErrJobBusy when the job is running with a trigger already queued.
func (s *Scheduler) Trigger(name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	select {
	case j.trigger <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrJobBusy, name)
	}
}

// RunStartup executes the named jobs synchronously, in order. A failing job
// is logged and the sequence continues; each job still refuses to overlap a
// concurrent run of itself.
func (s *Scheduler) RunStartup(ctx context.Context, names ...string) {
	for _, name := range names {
		j, ok := s.jobs[name]
		if !ok {
			s.logger.Error("startup sequence references unknown job", "job", name)
			continue
		}
		if err := s.execute(ctx, j); err != nil {
			s.logger.Error("startup job failed", "job", name, "error", err)
		}
	}
}

// Status reports every job in registration order.
func (s *Scheduler) Status() []types.JobStatus {
	out := make([]types.JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		j.mu.Lock()
		out = append(out, types.JobStatus{
			Name:         j.name,
			Schedule:     j.schedule,
			State:        j.state,
			LastStarted:  j.lastStarted,
			LastDuration: j.lastDuration,
			LastError:    j.lastError,
		})
		j.mu.Unlock()
	}
	return out
}

func (s *Scheduler) own(ctx context.Context, j *job) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.trigger:
			if err := s.execute(ctx, j); err != nil {
				s.logger.Error("job failed", "job", j.name, "error", err)
			}
		}
	}
}

// execute runs the job once, refusing to overlap itself.
func (s *Scheduler) execute(ctx context.Context, j *job) error {
	started := time.Now()

	j.mu.Lock()
	if j.state == types.JobRunning {
		j.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobBusy, j.name)
	}
	j.state = types.JobRunning
	j.lastStarted = &started
	j.mu.Unlock()

	s.logger.Info("job started", "job", j.name)
	err := j.run(ctx)
	duration := time.Since(started)

	j.mu.Lock()
	j.state = types.JobIdle
	j.lastDuration = duration
	if err != nil {
		j.lastError = err.Error()
	} else {
		j.lastError = ""
	}
	j.mu.Unlock()

	if err != nil {
		return err
	}
	s.logger.Info("job finished", "job", j.name, "duration", duration)
	return nil
}
