// Package diagnostics captures the state of a browser session at the moment
// a wait or action fails: a screenshot, the serialized DOM, a text excerpt
// and a list of interactive elements present on the page.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/storage"
)

// DefaultExcerptBytes bounds the DOM excerpt written to the log.
const DefaultExcerptBytes = 1000

// MaxCandidates bounds the candidate element list.
const MaxCandidates = 25

// candidateSelector picks the elements worth listing when a locator fails.
const candidateSelector = `input:not([type="hidden"]), textarea, select, button, a[role="button"], [data-testid]`

// Report is the result of one capture.
type Report struct {
	Reason     string
	Target     string
	URL        string
	At         time.Time
	Screenshot *storage.Reference
	DOM        *storage.Reference
	Excerpt    string
	Candidates []string
}

// Location returns the screenshot location, falling back to the DOM dump.
func (r *Report) Location() string {
	switch {
	case r.Screenshot != nil:
		return r.Screenshot.Location
	case r.DOM != nil:
		return r.DOM.Location
	}
	return ""
}

// Capturer writes failure artifacts for one run.
type Capturer struct {
	store        storage.Backend
	runID        string
	logger       *zap.Logger
	excerptBytes int
	now          func() time.Time
	sanitizer    *bluemonday.Policy

	mu      sync.Mutex
	seq     int
	reports []*Report
}

// NewCapturer returns a capturer storing artifacts under runID.
func NewCapturer(store storage.Backend, runID string, logger *zap.Logger) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		store:        store,
		runID:        runID,
		logger:       logger,
		excerptBytes: DefaultExcerptBytes,
		now:          time.Now,
		sanitizer:    bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true),
	}
}

// SetExcerptBytes changes the excerpt length. Non-positive values are
// ignored.
func (c *Capturer) SetExcerptBytes(n int) {
	if n > 0 {
		c.excerptBytes = n
	}
}

// Capture records the session state and returns the screenshot location.
// Each artifact is attempted independently; the returned error joins every
// failure.
func (c *Capturer) Capture(ctx context.Context, session browser.Session, reason, target string) (string, error) {
	report, err := c.CaptureReport(ctx, session, reason, target)
	return report.Location(), err
}

// CaptureReport is Capture returning the full report.
func (c *Capturer) CaptureReport(ctx context.Context, session browser.Session, reason, target string) (*Report, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	at := c.now()
	report := &Report{Reason: reason, Target: target, At: at}
	var errs []error

	if u, err := session.URL(ctx); err == nil {
		report.URL = u
	} else {
		errs = append(errs, fmt.Errorf("read url: %w", err))
	}

	base := fmt.Sprintf("%03d-%s-%s", seq, slug(reason), slug(target))

	if png, err := session.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else {
		ref, err := c.store.Store(ctx, c.runID, &storage.Artifact{
			Name:        base + ".png",
			ContentType: storage.ContentTypePNG,
			Content:     png,
			Metadata:    map[string]string{"reason": reason, "target": target, "url": report.URL},
			CreatedTime: at,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("store screenshot: %w", err))
		}
		report.Screenshot = ref
	}

	if html, err := session.HTML(ctx); err != nil {
		errs = append(errs, fmt.Errorf("page html: %w", err))
	} else {
		ref, err := c.store.Store(ctx, c.runID, &storage.Artifact{
			Name:        base + ".html",
			ContentType: storage.ContentTypeHTML,
			Content:     []byte(html),
			Metadata:    map[string]string{"reason": reason, "target": target, "url": report.URL},
			CreatedTime: at,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("store dom: %w", err))
		}
		report.DOM = ref
		report.Excerpt, report.Candidates = c.Inspect(html)
	}

	c.mu.Lock()
	c.reports = append(c.reports, report)
	c.mu.Unlock()

	c.logger.Error("captured failure diagnostics",
		zap.String("reason", reason),
		zap.String("target", target),
		zap.String("url", report.URL),
		zap.String("artifact", report.Location()),
		zap.String("dom_excerpt", report.Excerpt),
		zap.Strings("candidates", report.Candidates))

	return report, errors.Join(errs...)
}

// Reports returns every capture made so far, oldest first.
func (c *Capturer) Reports() []*Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Report(nil), c.reports...)
}

// Inspect extracts the sanitized body text excerpt and the candidate
// element list from a serialized document.
func (c *Capturer) Inspect(html string) (string, []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return truncate(c.sanitizer.Sanitize(html), c.excerptBytes), nil
	}
	doc.Find("script, style, noscript, template").Remove()

	body, err := doc.Find("body").Html()
	if err != nil {
		body = ""
	}
	excerpt := truncate(collapseSpace(c.sanitizer.Sanitize(body)), c.excerptBytes)

	var candidates []string
	doc.Find(candidateSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		candidates = append(candidates, describe(s))
		return len(candidates) < MaxCandidates
	})
	return excerpt, candidates
}

func describe(s *goquery.Selection) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(goquery.NodeName(s))
	for _, attr := range []string{"id", "name", "type", "data-testid", "aria-label", "placeholder", "href"} {
		if v, ok := s.Attr(attr); ok && v != "" {
			fmt.Fprintf(&b, " %s=%q", attr, v)
		}
	}
	b.WriteString(">")
	if text := collapseSpace(s.Text()); text != "" {
		b.WriteString(" ")
		b.WriteString(truncate(text, 60))
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func slug(s string) string {
	if s == "" {
		return "page"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
