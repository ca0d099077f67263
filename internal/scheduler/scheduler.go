// Package scheduler runs the gateway's periodic housekeeping jobs: the
// rate limiter's window sweep and the agent reaper (SPEC_FULL §5.4).
// Grounded on the teacher's internal/scheduler, which wraps go-co-op/gocron
// to drive backup-policy ticks one gocron job per policy; here gocron
// drives two fixed-interval jobs instead of per-policy cron expressions,
// since the gateway has no user-configured schedules of its own.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler wraps a gocron.Scheduler. The zero value is not usable; build
// one with New.
type Scheduler struct {
	cron   gocron.Scheduler
	logger *zap.Logger
}

// New constructs an idle Scheduler. Call Start to begin running jobs
// registered with AddPeriodic.
func New(logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{cron: cron, logger: logger.Named("scheduler")}, nil
}

// AddPeriodic registers task to run every interval, starting after the
// first interval elapses. Panics recovered from task are logged and do
// not stop the scheduler, matching gocron's own job-isolation behaviour.
func (s *Scheduler) AddPeriodic(name string, interval time.Duration, task func()) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("scheduler: job panicked", zap.String("job", name), zap.Any("recover", r))
				}
			}()
			task()
		}),
		gocron.WithTags(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: failed to register job %q: %w", name, err)
	}
	return nil
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop shuts the scheduler down, waiting for in-flight job runs to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	return nil
}
