package harness

import (
	"fmt"
	"strings"
	"time"
)

// TimeoutError reports a wait whose condition never held. Artifact is the
// location of the screenshot captured before the error was returned.
type TimeoutError struct {
	Target    string
	Condition string
	Timeout   time.Duration
	URL       string
	Artifact  string
	// LastErr is the most recent transient driver error seen while polling.
	LastErr error
}

func (e *TimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timed out after %s waiting for %s to be %s (url %s)", e.Timeout, e.Target, e.Condition, e.URL)
	if e.LastErr != nil {
		fmt.Fprintf(&b, ": last error: %v", e.LastErr)
	}
	return b.String()
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// AmbiguousMatchError reports a target requiring one match whose candidate
// kept matching several elements until the deadline.
type AmbiguousMatchError struct {
	Target    string
	Candidate string
	Matches   int
	URL       string
	Artifact  string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s is ambiguous: %s matched %d elements (url %s)", e.Target, e.Candidate, e.Matches, e.URL)
}

// AssertionError reports a post-condition that did not hold, with the
// observed value.
type AssertionError struct {
	Target   string
	Expected string
	Observed string
	URL      string
	Artifact string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion on %s failed: expected %s, observed %q (url %s)", e.Target, e.Expected, e.Observed, e.URL)
}

// ActionError wraps an unexpected driver failure while acting on a
// resolved element or navigating.
type ActionError struct {
	Target   string
	Action   string
	URL      string
	Artifact string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s on %s failed (url %s): %v", e.Action, e.Target, e.URL, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
