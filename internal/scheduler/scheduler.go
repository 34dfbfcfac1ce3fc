// Package scheduler runs Warden's maintenance jobs, such as the audit
// retention purge, on cron schedules.
//
// Jobs run with the serve command's context; a job still running when the
// context is cancelled sees the cancellation and Stop waits for it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of maintenance work.
type Job struct {
	Name string
	Spec string // Standard 5-field cron spec or descriptor ("@every 1h", "@daily").
	Run  func(ctx context.Context) error
}

// Scheduler fires registered jobs on their schedules.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	parser  cron.Parser
	jobs    map[string]Job
	metrics *Metrics
	logger  *slog.Logger
}

// New creates a Scheduler. metrics may be nil.
func New(metrics *Metrics, logger *slog.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		jobs:    make(map[string]Job),
		metrics: metrics,
		logger:  logger,
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job name and func are required")
	}
	if _, err := s.parser.Parse(job.Spec); err != nil {
		return fmt.Errorf("scheduler: job %s: invalid schedule %q: %w", job.Name, job.Spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: duplicate job %q", job.Name)
	}
	s.jobs[job.Name] = job
	return nil
}

// Start schedules every registered job and returns a stop function that
// waits for running jobs to finish.
func (s *Scheduler) Start(ctx context.Context) func() {
	s.mu.Lock()
	for _, job := range s.jobs {
		sched, _ := s.parser.Parse(job.Spec)
		s.cron.Schedule(sched, cron.FuncJob(func() { s.run(ctx, job) }))
	}
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "maintenance scheduler started", slog.Int("jobs", n))

	return func() {
		<-s.cron.Stop().Done()
		s.logger.Info("maintenance scheduler stopped")
	}
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
		s.logger.ErrorContext(ctx, "maintenance job failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.DebugContext(ctx, "maintenance job finished",
			slog.String("job", job.Name),
			slog.Duration("duration", duration),
		)
	}
	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(job.Name, result).Inc()
		s.metrics.JobDuration.WithLabelValues(job.Name).Observe(duration.Seconds())
	}
	return err
}
