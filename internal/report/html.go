package report

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>shopwalk run {{ run.ID }}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1f2933; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
th, td { border: 1px solid #cbd2d9; padding: .3rem .6rem; text-align: left; }
.status-passed { color: #1b7f3b; }
.status-failed { color: #b42318; }
.status-skipped { color: #7b8794; }
</style>
</head>
<body>
<p class="status-{{ run.Status }}">{{ status }} in {{ duration }}, generated {{ generated }}</p>
{{ summary|safe }}
{% if artifacts %}<h2>Artifacts</h2>
<ul>
{% for a in artifacts %}<li><code>{{ a }}</code></li>
{% endfor %}</ul>
{% endif %}</body>
</html>
`

var (
	pageOnce sync.Once
	page     *pongo2.Template
	pageErr  error
)

func pageTpl() (*pongo2.Template, error) {
	pageOnce.Do(func() {
		page, pageErr = pongo2.FromString(pageTemplate)
	})
	return page, pageErr
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML renders run as a standalone page. The markdown summary is converted
// with goldmark and sanitized before it is embedded.
func HTML(run *Run, generated time.Time) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(Markdown(run)), &body); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}
	summary := bluemonday.UGCPolicy().SanitizeBytes(body.Bytes())

	tpl, err := pageTpl()
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}

	var artifacts []string
	for _, step := range run.Steps {
		if step.Artifact != "" {
			artifacts = append(artifacts, step.Artifact)
		}
	}

	out, err := tpl.ExecuteBytes(pongo2.Context{
		"run":       run,
		"status":    string(run.Status),
		"duration":  FormatDuration(run.Duration()),
		"generated": generated.UTC().Format(time.RFC3339),
		"summary":   string(summary),
		"artifacts": artifacts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return out, nil
}
