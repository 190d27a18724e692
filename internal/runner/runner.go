// Package runner schedules journey runs for watch mode and executes single
// runs end to end.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TaskStatus is a snapshot of one scheduled task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastStart time.Time `json:"last_start,omitempty"`
	LastEnd   time.Time `json:"last_end,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

// Runner executes registered tasks on their cron schedules. A task never
// overlaps with itself; a tick that arrives while it is still running is
// skipped.
type Runner struct {
	cron       *cron.Cron
	registry   *TaskRegistry
	logger     *zap.Logger
	metrics    *Metrics
	runOnStart bool

	wg      sync.WaitGroup
	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	status  map[string]*TaskStatus
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRunOnStart runs every task once as soon as the runner starts instead
// of waiting for the first tick.
func WithRunOnStart(on bool) Option {
	return func(r *Runner) { r.runOnStart = on }
}

// NewRunner creates a runner for the tasks in registry.
func NewRunner(registry *TaskRegistry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		logger:   zap.NewNop(),
		entries:  make(map[string]cron.EntryID),
		status:   make(map[string]*TaskStatus),
	}
	for _, opt := range opts {
		opt(r)
	}
	cl := cronLogger{l: r.logger.Sugar(), metrics: r.metrics}
	r.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return r
}

// Start schedules every task and blocks until ctx is cancelled, then stops
// the scheduler and waits for running tasks.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.logger.Info("starting task runner")
	for _, name := range r.registry.Names() {
		task, _ := r.registry.Get(name)
		r.logger.Info("registering task", zap.String("task", name), zap.String("schedule", task.Schedule()))

		id, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		r.mu.Lock()
		r.entries[name] = id
		r.status[name] = &TaskStatus{Name: name, Schedule: task.Schedule()}
		r.mu.Unlock()
	}

	r.cron.Start()
	r.logger.Info("task runner started", zap.Int("tasks", len(r.entries)))

	if r.runOnStart {
		for _, name := range r.registry.Names() {
			if err := r.Trigger(name); err != nil {
				r.logger.Warn("failed to trigger task", zap.String("task", name), zap.Error(err))
			}
		}
	}

	<-ctx.Done()
	r.logger.Info("context cancelled, shutting down")
	r.Stop()
	return nil
}

// Trigger runs the named task now, outside its schedule. It is subject to
// the same no-overlap rule as scheduled ticks.
func (r *Runner) Trigger(name string) error {
	r.mu.Lock()
	id, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	entry := r.cron.Entry(id)
	if entry.WrappedJob == nil {
		return fmt.Errorf("task %q is not scheduled", name)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		entry.WrappedJob.Run()
	}()
	return nil
}

// executeTask runs a single task with its timeout and records the outcome.
func (r *Runner) executeTask(task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	r.mu.Lock()
	parent := r.ctx
	st := r.status[task.Name()]
	start := time.Now()
	if st != nil {
		st.Running = true
		st.LastStart = start
	}
	r.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	taskCtx, cancel := context.WithTimeout(parent, task.Timeout())
	defer cancel()

	logger := r.logger.With(zap.String("task", task.Name()))
	logger.Info("executing task")

	err := task.Run(taskCtx)
	duration := time.Since(start)

	r.mu.Lock()
	if st != nil {
		st.Running = false
		st.Runs++
		st.LastEnd = time.Now()
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
	}
	r.mu.Unlock()

	if err != nil {
		logger.Error("task failed", zap.Duration("duration", duration), zap.Error(err))
		return
	}
	logger.Info("task completed", zap.Duration("duration", duration))
}

// Status returns a snapshot of every scheduled task, ordered by name.
func (r *Runner) Status() []TaskStatus {
	r.mu.Lock()
	out := make([]TaskStatus, 0, len(r.status))
	ids := make(map[string]cron.EntryID, len(r.entries))
	for name, st := range r.status {
		out = append(out, *st)
		ids[name] = r.entries[name]
	}
	r.mu.Unlock()

	for i := range out {
		out[i].Next = r.cron.Entry(ids[out[i].Name]).Next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop stops scheduling and waits for running tasks to complete.
func (r *Runner) Stop() {
	r.logger.Info("stopping task runner")
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

// cronLogger adapts zap to cron's logger and counts skipped ticks.
type cronLogger struct {
	l       *zap.SugaredLogger
	metrics *Metrics
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		c.metrics.skip()
		c.l.Warnw("previous run still in progress, skipping tick", keysAndValues...)
		return
	}
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
