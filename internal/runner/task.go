package runner

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Task is a unit of scheduled work. Schedule is a standard cron expression
// or a descriptor such as "@every 30m"; Timeout bounds one Run.
type Task interface {
	Name() string
	Schedule() string
	Timeout() time.Duration
	Run(ctx context.Context) error
}

// TaskRegistry holds tasks by unique name.
type TaskRegistry struct {
	tasks map[string]Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

// Register adds task. Names must be non-empty and unique.
func (r *TaskRegistry) Register(task Task) error {
	name := task.Name()
	if name == "" {
		return fmt.Errorf("task has no name")
	}
	if _, dup := r.tasks[name]; dup {
		return fmt.Errorf("task %q is already registered", name)
	}
	r.tasks[name] = task
	return nil
}

// MustRegister is Register panicking on error.
func (r *TaskRegistry) MustRegister(tasks ...Task) {
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, ok := r.tasks[name]
	return task, ok
}

// Names returns the registered task names sorted.
func (r *TaskRegistry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
