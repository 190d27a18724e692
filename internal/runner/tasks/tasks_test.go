package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gotrs-io/shopwalk/internal/report"
	"github.com/gotrs-io/shopwalk/internal/runner"
	"github.com/gotrs-io/shopwalk/internal/storage"
)

type stubExecutor struct {
	res *runner.Result
	err error
}

func (s stubExecutor) Execute(context.Context) (*runner.Result, error) {
	return s.res, s.err
}

func TestJourneyTask(t *testing.T) {
	task := NewJourneyTask(stubExecutor{}, "@every 30m", 10*time.Minute, nil)
	assert.Equal(t, "journey", task.Name())
	assert.Equal(t, "@every 30m", task.Schedule())
	assert.Equal(t, 10*time.Minute, task.Timeout())
	assert.NoError(t, task.Run(context.Background()))
}

func TestJourneyTaskLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &report.Run{
		ID:        "run-7",
		StartedAt: start,
		Steps: []report.StepResult{
			{Index: 1, Name: "navigate-home", Status: report.StatusPassed},
			{Index: 2, Name: "open-cart", Status: report.StatusFailed, Artifact: "mem://run-7/001-timeout-cart_icon.png"},
		},
	}
	run.Finish(start.Add(time.Minute))
	stepErr := errors.New("step open-cart: timed out")

	task := NewJourneyTask(stubExecutor{res: &runner.Result{Run: run}, err: stepErr}, "@hourly", time.Minute, zap.New(core))
	err := task.Run(context.Background())
	assert.ErrorIs(t, err, stepErr)

	entries := logs.FilterMessage("scheduled journey failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "open-cart", fields["failed_step"])
	assert.Equal(t, "mem://run-7/001-timeout-cart_icon.png", fields["artifact"])
	assert.Equal(t, int64(1), fields["passed"])
}

type stubPruner struct {
	cutoff time.Time
	ids    []string
	err    error
}

func (p *stubPruner) DeleteBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	p.cutoff = cutoff
	return p.ids, p.err
}

func TestPruneTaskDeletesArtifacts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	for _, run := range []string{"old-run", "new-run"} {
		_, err := store.Store(ctx, run, &storage.Artifact{Name: "report.md", ContentType: storage.ContentTypeMarkdown, Content: []byte("# run")})
		require.NoError(t, err)
	}

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	pruner := &stubPruner{ids: []string{"old-run"}}
	task := NewPruneTask(pruner, store, 7*24*time.Hour, "@daily", nil)
	task.now = func() time.Time { return now }

	require.NoError(t, task.Run(ctx))
	assert.Equal(t, now.Add(-7*24*time.Hour), pruner.cutoff)

	refs, err := store.List(ctx, "old-run")
	require.NoError(t, err)
	assert.Empty(t, refs)
	refs, err = store.List(ctx, "new-run")
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	assert.Equal(t, "prune-history", task.Name())
	assert.Equal(t, "@daily", task.Schedule())
}

func TestPruneTaskDisabled(t *testing.T) {
	pruner := &stubPruner{err: errors.New("must not be called")}
	task := NewPruneTask(pruner, nil, 0, "@daily", nil)
	assert.NoError(t, task.Run(context.Background()))
	assert.True(t, pruner.cutoff.IsZero())
}

func TestPruneTaskPropagatesStoreErrors(t *testing.T) {
	pruner := &stubPruner{err: errors.New("no such table: shopwalk_runs")}
	task := NewPruneTask(pruner, storage.NewMemoryBackend(), time.Hour, "@daily", nil)
	assert.EqualError(t, task.Run(context.Background()), "no such table: shopwalk_runs")
}

type stubLocker struct {
	held     bool
	err      error
	released int
}

func (l *stubLocker) TryLock(context.Context) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, true, nil
}

type countingExecutor struct{ calls int }

func (e *countingExecutor) Execute(context.Context) (*runner.Result, error) {
	e.calls++
	return nil, nil
}

func TestJourneyTaskLock(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	exec := &countingExecutor{}
	lock := &stubLocker{}
	task := NewJourneyTask(exec, "@hourly", time.Minute, zap.New(core)).WithLock(lock)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 1, lock.released)
	assert.False(t, lock.held)

	lock.held = true
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, 1, logs.FilterMessage("journey lock is held by another watcher, skipping run").Len())

	lock.held = false
	lock.err = errors.New("redis down")
	assert.EqualError(t, task.Run(context.Background()), "redis down")
	assert.Equal(t, 1, exec.calls)
}
