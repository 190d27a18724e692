package helpers

import (
	"context"
	"fmt"

	"github.com/gotrs-io/shopwalk/internal/journey"
)

// StepsNamed picks steps from the standard journey by name, in journey
// order.
func StepsNamed(cfg journey.Config, names ...string) ([]journey.Step, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []journey.Step
	for _, s := range journey.Steps(cfg) {
		if want[s.Name] {
			out = append(out, s)
			delete(want, s.Name)
		}
	}
	if len(want) > 0 {
		return nil, fmt.Errorf("unknown journey steps: %v", want)
	}
	return out, nil
}

// Step wraps fn as a journey step.
func Step(name string, fn func(ctx context.Context, j *journey.Journey) error) journey.Step {
	return journey.Step{Name: name, Run: fn}
}

// LoginStep logs in with fixed credentials.
func LoginStep(email, password string) journey.Step {
	return Step("login", func(ctx context.Context, j *journey.Journey) error {
		return journey.Login(ctx, j, email, password)
	})
}
