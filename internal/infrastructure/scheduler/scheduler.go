package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 5 * time.Minute

// JobRunner executes a named job.
type JobRunner interface {
	Run(ctx context.Context, job string) error
}

// JobObserver records job outcomes.
type JobObserver interface {
	ObserveHeartbeatJob(job string, duration time.Duration, err error)
}

type Options struct {
	Location   *time.Location
	JobTimeout time.Duration
	Logger     *slog.Logger
	Observer   JobObserver
}

// Scheduler runs jobs on cron specs. A job still running when its next
// tick fires is skipped.
type Scheduler struct {
	cron     *cron.Cron
	runner   JobRunner
	logger   *slog.Logger
	observer JobObserver
	timeout  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(runner JobRunner, schedule map[string]string, opts Options) (*Scheduler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	cronLogger := cronLogAdapter{logger: logger}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner:   runner,
		logger:   logger,
		observer: opts.Observer,
		timeout:  timeout,
		baseCtx:  baseCtx,
		cancel:   cancel,
	}

	jobs := make([]string, 0, len(schedule))
	for job := range schedule {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(schedule[job], func() { _ = s.RunOnce(s.baseCtx, job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s: %w", job, err)
		}
	}
	return s, nil
}

// RunOnce executes one job with the job timeout, logging and observing the
// outcome. Cron ticks ignore the error; a failed job waits for its next tick.
func (s *Scheduler) RunOnce(ctx context.Context, job string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.runner.Run(ctx, job)
	elapsed := time.Since(start)
	if s.observer != nil {
		s.observer.ObserveHeartbeatJob(job, elapsed, err)
	}
	if err != nil {
		s.logger.Error("heartbeat_job_failed", "job", job, "duration_ms", elapsed.Milliseconds(), "error", err)
		return err
	}
	s.logger.Info("heartbeat_job_completed", "job", job, "duration_ms", elapsed.Milliseconds())
	return nil
}

// Entries returns the next run time of every job.
func (s *Scheduler) Entries() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
}

type cronLogAdapter struct {
	logger *slog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron_"+msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
