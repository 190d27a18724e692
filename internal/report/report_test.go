package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var started = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func failedRun() *Run {
	return &Run{
		ID:         "2f1c0d3e-0000-4000-8000-000000000001",
		Driver:     "chromedp",
		BaseURL:    "http://localhost:3000",
		Account:    "shopwalk+0a1b2c3d4e5f@example.com",
		StartedAt:  started,
		FinishedAt: started.Add(12340 * time.Millisecond),
		Status:     StatusFailed,
		Steps: []StepResult{
			{Index: 1, Name: "register-or-login", Status: StatusPassed, Duration: 3210 * time.Millisecond, URL: "http://localhost:3000/dashboard"},
			{Index: 2, Name: "navigate-home", Status: StatusPassed, Duration: 1500 * time.Millisecond, URL: "http://localhost:3000/"},
			{
				Index:     3,
				Name:      "search-product",
				Status:    StatusFailed,
				Duration:  10020 * time.Millisecond,
				URL:       "http://localhost:3000/",
				Error:     "timed out after 10s waiting for product_card to be present (url http://localhost:3000/)",
				ErrorKind: "timeout",
				Artifact:  "artifacts/2025/05/01/run/001-timeout-product_card.png",
			},
			{Index: 4, Name: "open-product", Status: StatusSkipped},
		},
	}
}

func passedRun() *Run {
	start := time.Date(2025, 5, 2, 8, 30, 0, 0, time.UTC)
	run := &Run{
		ID:        "run-ok",
		Driver:    "playwright",
		BaseURL:   "http://shop.test",
		StartedAt: start,
		Steps: []StepResult{
			{Index: 1, Name: "register-or-login", Status: StatusPassed, Duration: 2 * time.Second, URL: "http://shop.test/dashboard"},
			{Index: 2, Name: "logout-reconcile", Status: StatusPassed, Duration: 2500 * time.Millisecond, URL: "http://shop.test/login?next=a|b"},
		},
	}
	run.Finish(start.Add(4500 * time.Millisecond))
	return run
}

func TestMarkdown(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "markdown_failed", []byte(Markdown(failedRun())))
	g.Assert(t, "markdown_passed", []byte(Markdown(passedRun())))
}

func TestRunHelpers(t *testing.T) {
	run := failedRun()
	assert.Equal(t, 12340*time.Millisecond, run.Duration())
	assert.False(t, run.Passed())
	require.NotNil(t, run.FailedStep())
	assert.Equal(t, "search-product", run.FailedStep().Name)
	assert.Equal(t, 1, run.Count(StatusSkipped))

	ok := passedRun()
	assert.True(t, ok.Passed())
	assert.Nil(t, ok.FailedStep())

	empty := &Run{StartedAt: started}
	assert.Zero(t, empty.Duration())
	empty.Finish(started.Add(time.Second))
	assert.Equal(t, StatusFailed, empty.Status)
}

func TestHTML(t *testing.T) {
	run := failedRun()
	run.Steps[2].Error = `<script>alert("x")</script> boom`

	out, err := HTML(run, started.Add(time.Minute))
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<title>shopwalk run 2f1c0d3e-0000-4000-8000-000000000001</title>")
	assert.Contains(t, page, `class="status-failed"`)
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<td>search-product</td>")
	assert.Contains(t, page, "generated 2025-05-01T12:01:00Z")
	assert.Contains(t, page, "<code>artifacts/2025/05/01/run/001-timeout-product_card.png</code>")
	assert.NotContains(t, page, "<script>")
}

func TestXLSX(t *testing.T) {
	runs := []*Run{failedRun(), passedRun()}

	path := filepath.Join(t.TempDir(), "history.xlsx")
	require.NoError(t, ExportXLSX(runs, path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Runs")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Run", rows[0][0])
	assert.Equal(t, "2f1c0d3e-0000-4000-8000-000000000001", rows[1][0])
	assert.Equal(t, "failed", rows[1][1])
	assert.Equal(t, "search-product", rows[1][7])
	assert.Equal(t, "passed", rows[2][1])

	steps, err := f.GetRows("Steps")
	require.NoError(t, err)
	require.Len(t, steps, 7)
	assert.Equal(t, "search-product", steps[3][2])
	assert.Equal(t, "timeout", steps[3][6])
	assert.Equal(t, "logout-reconcile", steps[6][2])

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(runs, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "PK"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "1.2s", FormatDuration(1234*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(125*time.Second))
}
