package harness

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"k8s.io/apimachinery/pkg/util/wait"
)

// URLMatcher decides whether a URL satisfies a post-condition.
type URLMatcher struct {
	Description string
	Match       func(u *url.URL) bool
}

// PathIn matches URLs whose path equals one of paths. Trailing slashes are
// ignored.
func PathIn(paths ...string) URLMatcher {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[trimPath(p)] = true
	}
	return URLMatcher{
		Description: "path in " + strings.Join(paths, ", "),
		Match: func(u *url.URL) bool {
			return want[trimPath(u.Path)]
		},
	}
}

// PathNotIn matches URLs whose path is none of paths.
func PathNotIn(paths ...string) URLMatcher {
	in := PathIn(paths...)
	return URLMatcher{
		Description: "path not in " + strings.Join(paths, ", "),
		Match: func(u *url.URL) bool {
			return !in.Match(u)
		},
	}
}

// PathHasPrefix matches URLs whose path starts with prefix.
func PathHasPrefix(prefix string) URLMatcher {
	return URLMatcher{
		Description: "path starting with " + prefix,
		Match: func(u *url.URL) bool {
			return strings.HasPrefix(u.Path, prefix)
		},
	}
}

// AssertURL polls until the current URL satisfies m and returns it. On
// timeout the last observed URL is reported in an AssertionError.
func (h *Harness) AssertURL(ctx context.Context, m URLMatcher, timeout time.Duration) (string, error) {
	timeout = h.timeoutOr(timeout)
	start := time.Now()
	defer h.metrics.observeWait("url", start)

	var observed string
	err := wait.PollUntilContextTimeout(ctx, h.cfg.PollInterval, timeout, true, func(pctx context.Context) (bool, error) {
		current, err := h.session.URL(pctx)
		if err != nil {
			return false, nil
		}
		observed = current
		u, err := url.Parse(current)
		if err != nil {
			return false, nil
		}
		return m.Match(u), nil
	})
	if err == nil {
		return observed, nil
	}
	if ctx.Err() != nil {
		return observed, ctx.Err()
	}
	h.metrics.timeout("url")
	return observed, &AssertionError{
		Target:   "url",
		Expected: m.Description,
		Observed: observed,
		URL:      observed,
		Artifact: h.capture(ctx, "url", "url"),
	}
}

// PathOf returns the path component of raw, or raw itself if it does not
// parse.
func PathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return trimPath(u.Path)
}

func containsFold(s, substr string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(normalizeSpace(s)), fold.String(normalizeSpace(substr)))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
