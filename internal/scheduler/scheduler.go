// Package scheduler runs the daily jobs: cron entries for time-of-day
// tasks and ticker workers for recurring ones.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name returns the job name.
func (j JobFunc) Name() string { return j.JobName }

// Run invokes the wrapped function.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

type intervalJob struct {
	job   Job
	every time.Duration
	gate  func(time.Time) bool
}

// Scheduler coordinates time-of-day cron jobs and recurring interval
// workers behind one shared stop signal.
type Scheduler struct {
	cron      *cron.Cron
	intervals []intervalJob
	log       zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a scheduler whose cron expressions evaluate in loc, the
// exchange timezone.
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddDaily registers a time-of-day job with a standard cron expression,
// e.g. "0 9 * * MON-FRI" for 09:00 on weekdays.
func (s *Scheduler) AddDaily(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(context.Background(), job)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", spec).Str("job", job.Name()).Msg("Daily job registered")
	return nil
}

// AddInterval registers a recurring job. A non-nil gate is consulted on
// every tick; while it reports false the tick is skipped and the worker
// keeps waiting, so market-hours jobs stay quiet overnight.
func (s *Scheduler) AddInterval(every time.Duration, job Job, gate func(time.Time) bool) {
	s.intervals = append(s.intervals, intervalJob{job: job, every: every, gate: gate})
	s.log.Info().Dur("every", every).Str("job", job.Name()).Msg("Interval job registered")
}

// Start launches the cron entries and one worker per interval job.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.cron.Start()
	for _, ij := range s.intervals {
		s.wg.Add(1)
		go s.intervalWorker(ctx, ij)
	}
	s.log.Info().Int("interval_jobs", len(s.intervals)).Msg("Scheduler started")
}

// Stop signals every worker and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run(ctx)
}

func (s *Scheduler) intervalWorker(ctx context.Context, ij intervalJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(ij.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if ij.gate != nil && !ij.gate(now) {
				continue
			}
			s.runJob(ctx, ij.job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	if err := job.Run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
}
