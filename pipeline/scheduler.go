package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/buffer"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
)

// StartDateFunc picks the export start date for a run starting at now
type StartDateFunc func(now time.Time) (time.Time, error)

// Status describes the scheduler state for health reporting
type Status struct {
	LastRun       time.Time
	LastSuccess   time.Time
	LastError     string
	LastPoints    int
	PendingPoints int
	DroppedPoints int
}

// Scheduler runs the pipeline on a cron schedule, one run at a time. Points
// from a failed write are held and retried with the next run.
type Scheduler struct {
	runner    *Runner
	cron      *cron.Cron
	job       cron.Job
	startDate StartDateFunc
	pending   *buffer.RingBuffer[types.Point]
	logger    *zap.Logger

	ctx     context.Context
	startup sync.WaitGroup

	mu     sync.Mutex
	status Status
}

// NewScheduler creates a Scheduler for the given cron spec
func NewScheduler(runner *Runner, spec string, startDate StartDateFunc, pending *buffer.RingBuffer[types.Point], logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		runner:    runner,
		startDate: startDate,
		pending:   pending,
		logger:    logger,
		ctx:       context.Background(),
	}

	cronLog := cronLogger{logger.Sugar()}
	s.cron = cron.New(cron.WithLogger(cronLog))
	s.job = cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).
		Then(cron.FuncJob(s.runOnce))

	if _, err := s.cron.AddJob(spec, s.job); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is cancelled and the running
// job, if any, has finished
func (s *Scheduler) Run(ctx context.Context, runOnStart bool) {
	s.ctx = ctx
	s.cron.Start()

	entries := s.cron.Entries()
	if len(entries) > 0 {
		s.logger.Info("scheduler started", zap.Time("next_run", entries[0].Next))
	}

	if runOnStart {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.job.Run()
		}()
	}

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	s.startup.Wait()
}

// runOnce performs a scheduled run, carrying pending points into its batch
func (s *Scheduler) runOnce() {
	now := time.Now()
	start, err := s.startDate(now)
	if err != nil {
		s.finish(now, nil, fmt.Errorf("failed to resolve start date: %w", err))
		return
	}

	carried := s.pending.Drain()
	result, err := s.runner.run(s.ctx, start, carried)

	var writeErr *WriteError
	switch {
	case errors.As(err, &writeErr):
		s.pending.Add(writeErr.Points...)
	case err != nil:
		s.pending.Add(carried...)
	}

	s.finish(now, result, err)
}

func (s *Scheduler) finish(at time.Time, result *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastRun = at
	s.status.PendingPoints = s.pending.Len()
	s.status.DroppedPoints = s.pending.Dropped()
	if err != nil {
		s.status.LastError = err.Error()
		s.logger.Warn("scheduled run failed",
			zap.Int("pending_points", s.status.PendingPoints),
			zap.Error(err))
		return
	}

	s.status.LastSuccess = at
	s.status.LastError = ""
	if result != nil {
		s.status.LastPoints = result.Points
	}
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	*zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, append(keysAndValues, "error", err)...)
}
