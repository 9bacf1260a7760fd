package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// EveryMinute is the schedule of the in-memory sweeps.
const EveryMinute = "@every 1m"

var (
	ErrInvalidJob = errors.New("scheduler: invalid job")
	ErrUnknownJob = errors.New("scheduler: unknown job")
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Recorder observes job runs. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordJobRun(job string, duration time.Duration, success bool)
}

// Config describes the dependencies of a Scheduler.
type Config struct {
	Logger   *zap.Logger
	Recorder Recorder
	Location *time.Location
}

// Scheduler runs janitor jobs on cron schedules.
type Scheduler struct {
	cron     *cron.Cron
	logger   *zap.Logger
	recorder Recorder

	mu      sync.Mutex
	jobs    map[string]Job
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs a stopped Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	adapter := cronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger:   logger,
		recorder: cfg.Recorder,
		jobs:     make(map[string]Job),
		baseCtx:  context.Background(),
	}
}

// Add registers a job. The schedule accepts standard five-field specs and @every descriptors.
func (s *Scheduler) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Schedule = strings.TrimSpace(job.Schedule)
	if job.Name == "" || job.Schedule == "" || job.Run == nil {
		return fmt.Errorf("%w: name, schedule and run are required", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: duplicate job %q", ErrInvalidJob, job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(s.context(), job) }); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	s.jobs[job.Name] = job
	s.logger.Debug("job scheduled", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return nil
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, job)
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start begins dispatching. Jobs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", s.Jobs()))
}

// Stop halts dispatching and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	if s.recorder != nil {
		s.recorder.RecordJobRun(job.Name, elapsed, err == nil)
	}
	if err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		return err
	}
	s.logger.Debug("job completed", zap.String("job", job.Name), zap.Duration("elapsed", elapsed))
	return nil
}

// SweepJob adapts an in-memory sweep to a Job; removals are logged at info.
func SweepJob(name, schedule string, logger *zap.Logger, sweep func() int) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     name,
		Schedule: schedule,
		Run: func(context.Context) error {
			if removed := sweep(); removed > 0 {
				logger.Info("expired entries swept", zap.String("job", name), zap.Int("removed", removed))
			}
			return nil
		},
	}
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
