// Package tasks holds the scheduled tasks run in watch mode.
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/report"
	"github.com/gotrs-io/shopwalk/internal/runner"
)

// Executor runs one journey.
type Executor interface {
	Execute(ctx context.Context) (*runner.Result, error)
}

// JourneyTask runs the storefront journey on a schedule.
type JourneyTask struct {
	exec     Executor
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
	lock     runner.Locker
}

// NewJourneyTask creates the scheduled journey task.
func NewJourneyTask(exec Executor, schedule string, timeout time.Duration, logger *zap.Logger) *JourneyTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JourneyTask{exec: exec, schedule: schedule, timeout: timeout, logger: logger}
}

// WithLock makes every run take l first. A run that finds the lock taken
// is skipped.
func (t *JourneyTask) WithLock(l runner.Locker) *JourneyTask {
	t.lock = l
	return t
}

func (t *JourneyTask) Name() string { return "journey" }

func (t *JourneyTask) Schedule() string { return t.schedule }

func (t *JourneyTask) Timeout() time.Duration { return t.timeout }

// Run executes one journey and logs a one-line summary.
func (t *JourneyTask) Run(ctx context.Context) error {
	if t.lock != nil {
		unlock, ok, err := t.lock.TryLock(ctx)
		if err != nil {
			return err
		}
		if !ok {
			t.logger.Info("journey lock is held by another watcher, skipping run")
			return nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				t.logger.Warn("failed to release journey lock", zap.Error(err))
			}
		}()
	}

	res, err := t.exec.Execute(ctx)
	if res == nil || res.Run == nil {
		return err
	}
	run := res.Run
	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Duration("duration", run.Duration()),
		zap.Int("passed", run.Count(report.StatusPassed)),
		zap.Int("reports", len(res.Reports)),
	}
	if failed := run.FailedStep(); failed != nil {
		fields = append(fields, zap.String("failed_step", failed.Name), zap.String("artifact", failed.Artifact))
		t.logger.Warn("scheduled journey failed", fields...)
	} else {
		t.logger.Info("scheduled journey finished", fields...)
	}
	return err
}
