// Package report models the outcome of a journey run and renders it as
// markdown, HTML and spreadsheet history.
package report

import (
	"time"
)

// Status is the outcome of a step or run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult records one journey step.
type StepResult struct {
	Index     int           `json:"index"`
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	URL       string        `json:"url,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Artifact  string        `json:"artifact,omitempty"`
}

// Run records one execution of the journey.
type Run struct {
	ID         string       `json:"id"`
	Driver     string       `json:"driver"`
	BaseURL    string       `json:"base_url"`
	Account    string       `json:"account,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Status     Status       `json:"status"`
	Steps      []StepResult `json:"steps"`
}

// Duration is the wall time between start and finish.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Passed reports whether the run completed every step.
func (r *Run) Passed() bool {
	return r.Status == StatusPassed
}

// FailedStep returns the step that aborted the run, or nil.
func (r *Run) FailedStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StatusFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// Count returns how many steps ended with status s.
func (r *Run) Count(s Status) int {
	n := 0
	for _, step := range r.Steps {
		if step.Status == s {
			n++
		}
	}
	return n
}

// Finish sets the end time and derives the run status from its steps.
func (r *Run) Finish(at time.Time) {
	r.FinishedAt = at
	r.Status = StatusPassed
	if r.FailedStep() != nil || len(r.Steps) == 0 {
		r.Status = StatusFailed
	}
}

// FormatDuration renders d rounded to a tenth of a second.
func FormatDuration(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}
