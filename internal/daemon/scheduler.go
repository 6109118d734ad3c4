package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Scheduler wraps the gocron scheduler that runs watchdog monitors.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start(_ context.Context) {
	slog.Debug("Starting scheduler")
	s.scheduler.Start()
}

// Stop shuts the scheduler down. Jobs that are mid-run finish on their own.
func (s *Scheduler) Stop(_ context.Context) error {
	slog.Debug("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleEvery runs fn every interval, first after one interval has elapsed.
// Runs of the same job never overlap; a run still in progress when the next is
// due pushes that run back. The returned id is the job id used by Remove.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, fn func()) (uuid.UUID, error) {
	if interval <= 0 {
		return uuid.Nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create job %s: %w", name, err)
	}
	return job.ID(), nil
}

// Remove deletes a job. Removing a job that already finished is not an error.
func (s *Scheduler) Remove(id uuid.UUID) error {
	if err := s.scheduler.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		return fmt.Errorf("failed to remove job %s: %w", id, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.scheduler.Jobs())
}
