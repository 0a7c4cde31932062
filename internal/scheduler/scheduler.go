// Package scheduler drives the sync loop: one cycle per tick, single
// flight. A tick that arrives while a cycle is still running is skipped
// and logged, never queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stacksync/stacksync/internal/logging"
	"github.com/stacksync/stacksync/internal/syncer"
)

// CycleRunner runs one sync cycle to completion.
type CycleRunner interface {
	RunCycle(ctx context.Context) *syncer.Report
}

// Scheduler owns the periodic cycle execution.
type Scheduler struct {
	runner        CycleRunner
	interval      time.Duration
	cycleDeadline time.Duration
	logger        *slog.Logger

	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates a scheduler ticking every interval. Each cycle gets
// cycleDeadline as its context deadline.
func New(runner CycleRunner, interval, cycleDeadline time.Duration) *Scheduler {
	return &Scheduler{
		runner:        runner,
		interval:      interval,
		cycleDeadline: cycleDeadline,
		logger:        logging.WithComponent("scheduler"),
		cron:          cron.New(),
	}
}

// Start runs an immediate first cycle and then ticks every interval until
// Stop is called.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// One chained job serves both the immediate bootstrap run and every
	// tick, so the skip guard covers a tick that fires while the
	// bootstrap cycle is still running.
	job := cron.NewChain(
		cron.SkipIfStillRunning(&cronLogger{logger: s.logger}),
	).Then(cron.FuncJob(func() {
		s.runOnce(ctx)
	}))

	if _, err := s.cron.AddJob("@every "+s.interval.String(), job); err != nil {
		cancel()
		return err
	}

	s.running = true
	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.interval.String())

	// First cycle right away; the cron only fires after one interval.
	go job.Run()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleDeadline)
	defer cancel()
	s.runner.RunCycle(cycleCtx)
}

// Stop halts ticking and waits for the in-flight cycle up to grace;
// past the deadline the cycle's context is cancelled and remaining work
// aborted.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped cleanly")
	case <-time.After(grace):
		s.logger.Warn("grace deadline exceeded, aborting in-flight cycle")
		cancel()
		<-done
	}
	cancel()
}

// cronLogger adapts slog to the cron logger interface; its only traffic
// here is the skip notice for overlapping ticks.
type cronLogger struct {
	logger *slog.Logger
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Info(msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	c.logger.Error(msg, args...)
}
