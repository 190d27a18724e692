package report

import (
	"fmt"
	"strings"
	"time"
)

// Markdown renders a deterministic summary of run.
func Markdown(run *Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Journey run %s\n\n", run.ID)
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", strings.ToUpper(string(run.Status)))
	fmt.Fprintf(&b, "| Driver | %s |\n", cell(run.Driver))
	fmt.Fprintf(&b, "| Base URL | %s |\n", cell(run.BaseURL))
	if run.Account != "" {
		fmt.Fprintf(&b, "| Account | %s |\n", cell(run.Account))
	}
	fmt.Fprintf(&b, "| Started | %s |\n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Duration | %s |\n", FormatDuration(run.Duration()))
	fmt.Fprintf(&b, "| Steps | %d passed, %d failed, %d skipped |\n",
		run.Count(StatusPassed), run.Count(StatusFailed), run.Count(StatusSkipped))

	b.WriteString("\n## Steps\n\n")
	b.WriteString("| # | Step | Status | Duration | URL |\n|---|---|---|---|---|\n")
	for _, step := range run.Steps {
		duration := "-"
		if step.Status != StatusSkipped {
			duration = FormatDuration(step.Duration)
		}
		url := step.URL
		if url == "" {
			url = "-"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", step.Index, cell(step.Name), step.Status, duration, cell(url))
	}

	if failed := run.FailedStep(); failed != nil {
		b.WriteString("\n## Failure\n\n")
		fmt.Fprintf(&b, "Step **%s** failed", failed.Name)
		if failed.ErrorKind != "" {
			fmt.Fprintf(&b, " (%s)", failed.ErrorKind)
		}
		b.WriteString(":\n\n")
		fmt.Fprintf(&b, "```\n%s\n```\n", failed.Error)
		if failed.Artifact != "" {
			fmt.Fprintf(&b, "\nArtifact: `%s`\n", failed.Artifact)
		}
	}
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
