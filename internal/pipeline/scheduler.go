package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/internal/runlock"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/errors"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/metrics"
)

// Runner performs one run. *Session satisfies it.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

// RunnerFunc adapts a function to Runner. It is typically used to build a
// fresh Session per tick so no state leaks between runs.
type RunnerFunc func(ctx context.Context) (Summary, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) (Summary, error) { return f(ctx) }

// Scheduler launches a run every interval. A tick that finds a live run lock
// is skipped, never queued; ticks that fire while a run is in progress in
// this process are dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	lockPath string
	lockTTL  time.Duration
	logger   *zap.Logger

	// OnRun, when set, is called after every attempted run.
	OnRun func(Summary, error)
}

// NewScheduler returns a scheduler for runner using the run section of the
// configuration.
func NewScheduler(runner Runner, cfg config.RunConfig, log *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: cfg.Interval,
		lockPath: cfg.LockPath,
		lockTTL:  cfg.LockTTL,
		logger:   logger.OrNop(log).With(zap.String("component", "scheduler")),
	}
}

// Start runs immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New(errors.ErrorTypeConfig, "run.interval must be positive")
	}
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick reports whether a run was started.
func (s *Scheduler) tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if runlock.Held(s.lockPath, s.lockTTL) {
		metrics.Runs.WithLabelValues("locked").Inc()
		s.logger.Info("run in progress, skipping tick", zap.String("lock", s.lockPath))
		return false
	}

	sum, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, runlock.ErrHeld):
		s.logger.Info("run lock taken concurrently, skipping tick")
	case err != nil:
		s.logger.Error("run failed", zap.Error(err))
	default:
		s.logger.Info("scheduled run complete",
			zap.String("run_id", sum.RunID),
			zap.Int("processed", sum.Processed),
			zap.Duration("duration", sum.Duration))
	}
	if s.OnRun != nil {
		s.OnRun(sum, err)
	}
	return true
}
