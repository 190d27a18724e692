// Package harness drives a browser session through explicit, polling-based
// waits. Every wait is bounded; fixed delays exist only as configurable
// settle pauses layered on top of the polling.
package harness

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/locator"
)

// SettleKind selects one of the configured settle delays.
type SettleKind string

const (
	AfterNavigate SettleKind = "navigate"
	AfterClick    SettleKind = "click"
	AfterType     SettleKind = "type"
	AfterScroll   SettleKind = "scroll"
)

// SettleDelays are fixed pauses applied after actions. They are timing
// tuning only; correctness never depends on them.
type SettleDelays struct {
	AfterNavigate time.Duration `mapstructure:"after_navigate"`
	AfterClick    time.Duration `mapstructure:"after_click"`
	AfterType     time.Duration `mapstructure:"after_type"`
	AfterScroll   time.Duration `mapstructure:"after_scroll"`
}

// Config tunes waits and delays.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	DefaultTimeout time.Duration `mapstructure:"timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SettleTimeout  time.Duration `mapstructure:"settle_timeout"`
	// StableSamples is how many consecutive polls must report a complete
	// document at the same URL before the page counts as settled.
	StableSamples int          `mapstructure:"stable_samples"`
	Delays        SettleDelays `mapstructure:"delays"`
	// ScriptClick dispatches clicks through page script instead of native
	// input events, which sidesteps overlays intercepting the pointer.
	ScriptClick    bool          `mapstructure:"script_click"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"`
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:3000",
		DefaultTimeout: 10 * time.Second,
		PollInterval:   250 * time.Millisecond,
		SettleTimeout:  10 * time.Second,
		StableSamples:  3,
		Delays: SettleDelays{
			AfterNavigate: time.Second,
			AfterClick:    500 * time.Millisecond,
			AfterType:     200 * time.Millisecond,
			AfterScroll:   300 * time.Millisecond,
		},
		ScriptClick:    true,
		CaptureTimeout: 15 * time.Second,
	}
}

// Capturer records diagnostics for a failure and returns the location of
// the primary artifact.
type Capturer interface {
	Capture(ctx context.Context, session browser.Session, reason, target string) (string, error)
}

// Harness owns one browser session for the duration of a run.
type Harness struct {
	session  browser.Session
	cfg      Config
	logger   *zap.Logger
	capturer Capturer
	metrics  *Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithCapturer sets the failure diagnostics capturer.
func WithCapturer(c Capturer) Option {
	return func(h *Harness) { h.capturer = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// New wraps session. Zero config fields fall back to DefaultConfig values.
func New(session browser.Session, cfg Config, opts ...Option) *Harness {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.StableSamples <= 0 {
		cfg.StableSamples = def.StableSamples
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = def.CaptureTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}

	h := &Harness{
		session: session,
		cfg:     cfg,
		logger:  zap.NewNop(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Session returns the underlying browser session.
func (h *Harness) Session() browser.Session { return h.session }

// Config returns the effective configuration.
func (h *Harness) Config() Config { return h.cfg }

// Logger returns the harness logger.
func (h *Harness) Logger() *zap.Logger { return h.logger }

// Close releases the browser session.
func (h *Harness) Close() error {
	return h.session.Close()
}

func (h *Harness) timeoutOr(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return h.cfg.DefaultTimeout
	}
	return timeout
}

// WaitUntilPresent polls until target matches an element in the DOM.
func (h *Harness) WaitUntilPresent(ctx context.Context, target locator.Target, timeout time.Duration) (browser.Element, error) {
	return h.resolve(ctx, target, h.timeoutOr(timeout), false)
}

// WaitUntilClickable polls until target matches a visible, enabled element
// and scrolls it to the centre of the viewport.
func (h *Harness) WaitUntilClickable(ctx context.Context, target locator.Target, timeout time.Duration) (browser.Element, error) {
	el, err := h.resolve(ctx, target, h.timeoutOr(timeout), true)
	if err != nil {
		return nil, err
	}
	if err := el.ScrollIntoView(ctx); err != nil {
		return nil, h.actionError(ctx, target.Name, "scroll", err)
	}
	if err := h.Settle(ctx, AfterScroll); err != nil {
		return nil, err
	}
	return el, nil
}

type ambiguity struct {
	candidate locator.Locator
	matches   int
}

// resolve runs the candidate loop once per poll. A candidate with no match
// passes to the next one. A candidate matching several elements under
// cardinality one is remembered as ambiguous and also passed over, so a
// later unique candidate still wins.
func (h *Harness) resolve(ctx context.Context, target locator.Target, timeout time.Duration, clickable bool) (browser.Element, error) {
	kind := "present"
	if clickable {
		kind = "clickable"
	}
	start := time.Now()
	defer h.metrics.observeWait(kind, start)

	var (
		found     browser.Element
		lastErr   error
		ambiguous *ambiguity
	)

	err := wait.PollUntilContextTimeout(ctx, h.cfg.PollInterval, timeout, true, func(pctx context.Context) (bool, error) {
		ambiguous = nil
		for _, cand := range target.Candidates {
			els, err := h.session.FindAll(pctx, cand)
			if err != nil {
				if errors.Is(err, browser.ErrSessionClosed) {
					return false, err
				}
				lastErr = err
				continue
			}
			if len(els) == 0 {
				continue
			}
			if len(els) > 1 && !target.AllowsMany() {
				if ambiguous == nil {
					ambiguous = &ambiguity{candidate: cand, matches: len(els)}
				}
				continue
			}
			if !clickable {
				found = els[0]
				return true, nil
			}
			for _, el := range els {
				ok, err := interactable(pctx, el)
				if err != nil {
					lastErr = err
					continue
				}
				if ok {
					found = el
					return true, nil
				}
			}
		}
		return false, nil
	})
	if err == nil {
		h.logger.Debug("resolved element",
			zap.String("target", target.Name),
			zap.String("condition", kind),
			zap.Duration("elapsed", time.Since(start)))
		return found, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("waiting for %s: %w", target.Name, ctx.Err())
	}
	if !wait.Interrupted(err) {
		return nil, h.actionError(ctx, target.Name, "find", err)
	}

	h.metrics.timeout(target.Name)
	if ambiguous != nil {
		artifact := h.capture(ctx, "ambiguous", target.Name)
		return nil, &AmbiguousMatchError{
			Target:    target.Name,
			Candidate: ambiguous.candidate.String(),
			Matches:   ambiguous.matches,
			URL:       h.currentURL(ctx),
			Artifact:  artifact,
		}
	}
	artifact := h.capture(ctx, "timeout", target.Name)
	return nil, &TimeoutError{
		Target:    target.Name,
		Condition: kind,
		Timeout:   timeout,
		URL:       h.currentURL(ctx),
		Artifact:  artifact,
		LastErr:   lastErr,
	}
}

func interactable(ctx context.Context, el browser.Element) (bool, error) {
	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return false, err
	}
	return el.Enabled(ctx)
}

// TypeInto clears target and types text into it character by character.
func (h *Harness) TypeInto(ctx context.Context, target locator.Target, text string, timeout time.Duration) error {
	el, err := h.WaitUntilPresent(ctx, target, timeout)
	if err != nil {
		return err
	}
	h.metrics.action("type")
	if err := el.ScrollIntoView(ctx); err != nil {
		return h.actionError(ctx, target.Name, "scroll", err)
	}
	if err := el.Clear(ctx); err != nil {
		return h.actionError(ctx, target.Name, "clear", err)
	}
	if err := el.Type(ctx, text); err != nil {
		return h.actionError(ctx, target.Name, "type", err)
	}
	h.logger.Debug("typed into element", zap.String("target", target.Name), zap.Int("chars", len([]rune(text))))
	return h.Settle(ctx, AfterType)
}

// Click waits for target to become clickable and clicks it.
func (h *Harness) Click(ctx context.Context, target locator.Target, timeout time.Duration) error {
	el, err := h.WaitUntilClickable(ctx, target, timeout)
	if err != nil {
		return err
	}
	return h.click(ctx, target.Name, el)
}

// ClickElement scrolls to and clicks an element already resolved for the
// named target, such as one picked by WaitForText.
func (h *Harness) ClickElement(ctx context.Context, name string, el browser.Element) error {
	if err := el.ScrollIntoView(ctx); err != nil {
		return h.actionError(ctx, name, "scroll", err)
	}
	if err := h.Settle(ctx, AfterScroll); err != nil {
		return err
	}
	return h.click(ctx, name, el)
}

func (h *Harness) click(ctx context.Context, name string, el browser.Element) error {
	var err error
	if h.cfg.ScriptClick {
		h.metrics.action("script_click")
		err = el.ScriptClick(ctx)
	} else {
		h.metrics.action("click")
		err = el.Click(ctx)
	}
	if err != nil {
		return h.actionError(ctx, name, "click", err)
	}
	h.logger.Debug("clicked element", zap.String("target", name), zap.String("element", el.Describe(ctx)))
	return h.Settle(ctx, AfterClick)
}

// WaitForPageSettle polls until the document is complete and the URL has
// not changed for StableSamples consecutive polls. Running out of time is
// logged and otherwise ignored; only cancellation of ctx is returned.
func (h *Harness) WaitForPageSettle(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = h.cfg.SettleTimeout
	}
	start := time.Now()
	defer h.metrics.observeWait("settle", start)

	var (
		lastURL   string
		lastState browser.ReadyState
		stable    int
	)
	err := wait.PollUntilContextTimeout(ctx, h.cfg.PollInterval, timeout, true, func(pctx context.Context) (bool, error) {
		state, err := h.session.ReadyState(pctx)
		if err != nil {
			if errors.Is(err, browser.ErrSessionClosed) {
				return false, err
			}
			stable = 0
			return false, nil
		}
		lastState = state
		current, err := h.session.URL(pctx)
		if err != nil {
			stable = 0
			return false, nil
		}
		if state != browser.ReadyComplete {
			stable = 0
			lastURL = current
			return false, nil
		}
		if current == lastURL {
			stable++
		} else {
			stable = 1
			lastURL = current
		}
		return stable >= h.cfg.StableSamples, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !wait.Interrupted(err) {
		return h.actionError(ctx, "page", "settle", err)
	}

	h.metrics.settleTimeout()
	h.logger.Warn("page did not settle",
		zap.Duration("timeout", timeout),
		zap.String("url", lastURL),
		zap.String("ready_state", string(lastState)))
	return nil
}

// Navigate opens path relative to the base URL and waits for it to settle.
func (h *Harness) Navigate(ctx context.Context, path string) error {
	target, err := h.ResolveURL(path)
	if err != nil {
		return err
	}
	h.metrics.action("navigate")
	h.logger.Info("navigating", zap.String("url", target))
	if err := h.session.Navigate(ctx, target); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return h.actionError(ctx, path, "navigate", err)
	}
	if err := h.WaitForPageSettle(ctx, h.cfg.SettleTimeout); err != nil {
		return err
	}
	return h.Settle(ctx, AfterNavigate)
}

// ResolveURL joins path onto the base URL. Absolute URLs pass through.
func (h *Harness) ResolveURL(path string) (string, error) {
	base, err := url.Parse(h.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", h.cfg.BaseURL, err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Settle sleeps for the configured delay of kind.
func (h *Harness) Settle(ctx context.Context, kind SettleKind) error {
	var d time.Duration
	switch kind {
	case AfterNavigate:
		d = h.cfg.Delays.AfterNavigate
	case AfterClick:
		d = h.cfg.Delays.AfterClick
	case AfterType:
		d = h.cfg.Delays.AfterType
	case AfterScroll:
		d = h.cfg.Delays.AfterScroll
	}
	if d <= 0 {
		return nil
	}
	return h.sleep(ctx, d)
}

// Count returns the number of elements matched by the first candidate of
// target that matches anything.
func (h *Harness) Count(ctx context.Context, target locator.Target) (int, error) {
	var lastErr error
	for _, cand := range target.Candidates {
		els, err := h.session.FindAll(ctx, cand)
		if err != nil {
			lastErr = err
			continue
		}
		if len(els) > 0 {
			return len(els), nil
		}
	}
	if lastErr != nil {
		return 0, fmt.Errorf("counting %s: %w", target.Name, lastErr)
	}
	return 0, nil
}

// WaitForCount polls until target matches exactly n elements.
func (h *Harness) WaitForCount(ctx context.Context, target locator.Target, n int, timeout time.Duration) error {
	timeout = h.timeoutOr(timeout)
	start := time.Now()
	defer h.metrics.observeWait("count", start)

	observed := -1
	err := wait.PollUntilContextTimeout(ctx, h.cfg.PollInterval, timeout, true, func(pctx context.Context) (bool, error) {
		count, err := h.Count(pctx, target)
		if err != nil {
			return false, nil
		}
		observed = count
		return count == n, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	h.metrics.timeout(target.Name)
	return &AssertionError{
		Target:   target.Name,
		Expected: fmt.Sprintf("%d matches", n),
		Observed: fmt.Sprintf("%d", observed),
		URL:      h.currentURL(ctx),
		Artifact: h.capture(ctx, "count", target.Name),
	}
}

// AssertPresent fails with an AssertionError when target does not appear.
func (h *Harness) AssertPresent(ctx context.Context, target locator.Target, timeout time.Duration) error {
	_, err := h.WaitUntilPresent(ctx, target, timeout)
	var terr *TimeoutError
	if errors.As(err, &terr) {
		return &AssertionError{
			Target:   target.Name,
			Expected: "element present",
			Observed: "absent",
			URL:      terr.URL,
			Artifact: terr.Artifact,
		}
	}
	return err
}

// AssertTextContains polls until target's text contains want, compared
// under Unicode case folding.
func (h *Harness) AssertTextContains(ctx context.Context, target locator.Target, want string, timeout time.Duration) error {
	timeout = h.timeoutOr(timeout)
	deadline := time.Now().Add(timeout)
	el, err := h.WaitUntilPresent(ctx, target, timeout)
	if err != nil {
		return err
	}

	var observed string
	remaining := time.Until(deadline)
	if remaining < h.cfg.PollInterval {
		remaining = h.cfg.PollInterval
	}
	err = wait.PollUntilContextTimeout(ctx, h.cfg.PollInterval, remaining, true, func(pctx context.Context) (bool, error) {
		text, err := el.Text(pctx)
		if err != nil {
			if errors.Is(err, browser.ErrStaleElement) {
				if fresh, ferr := h.findFirst(pctx, target); ferr == nil && fresh != nil {
					el = fresh
				}
			}
			return false, nil
		}
		observed = text
		return containsFold(text, want), nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &AssertionError{
		Target:   target.Name,
		Expected: fmt.Sprintf("text containing %q", want),
		Observed: observed,
		URL:      h.currentURL(ctx),
		Artifact: h.capture(ctx, "text", target.Name),
	}
}

// maxObservedTexts bounds the texts reported by a failed WaitForText.
const maxObservedTexts = 5

// WaitForText polls until one of the elements matched by target has text
// containing want under Unicode case folding, and returns that element.
// Every match of every candidate is inspected, so elements already on the
// page before a filter runs do not satisfy the wait.
func (h *Harness) WaitForText(ctx context.Context, target locator.Target, want string, timeout time.Duration) (browser.Element, error) {
	timeout = h.timeoutOr(timeout)
	start := time.Now()
	defer h.metrics.observeWait("text", start)

	var (
		found    browser.Element
		observed []string
	)
	err := wait.PollUntilContextTimeout(ctx, h.cfg.PollInterval, timeout, true, func(pctx context.Context) (bool, error) {
		observed = observed[:0]
		for _, cand := range target.Candidates {
			els, err := h.session.FindAll(pctx, cand)
			if err != nil {
				if errors.Is(err, browser.ErrSessionClosed) {
					return false, err
				}
				continue
			}
			for _, el := range els {
				text, err := el.Text(pctx)
				if err != nil {
					continue
				}
				if containsFold(text, want) {
					found = el
					return true, nil
				}
				if len(observed) < maxObservedTexts {
					observed = append(observed, normalizeSpace(text))
				}
			}
		}
		return false, nil
	})
	if err == nil {
		return found, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("waiting for %s: %w", target.Name, ctx.Err())
	}
	if !wait.Interrupted(err) {
		return nil, h.actionError(ctx, target.Name, "find", err)
	}

	h.metrics.timeout(target.Name)
	seen := "no matching elements"
	if len(observed) > 0 {
		seen = strings.Join(observed, " | ")
	}
	return nil, &AssertionError{
		Target:   target.Name,
		Expected: fmt.Sprintf("element with text containing %q", want),
		Observed: seen,
		URL:      h.currentURL(ctx),
		Artifact: h.capture(ctx, "text", target.Name),
	}
}

func (h *Harness) findFirst(ctx context.Context, target locator.Target) (browser.Element, error) {
	for _, cand := range target.Candidates {
		els, err := h.session.FindAll(ctx, cand)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			return els[0], nil
		}
	}
	return nil, nil
}

// CurrentURL returns the session URL, or an empty string if it cannot be
// read.
func (h *Harness) CurrentURL(ctx context.Context) string {
	return h.currentURL(ctx)
}

func (h *Harness) currentURL(ctx context.Context) string {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	u, err := h.session.URL(cctx)
	if err != nil {
		return ""
	}
	return u
}

// Capture records diagnostics for an arbitrary failure, such as a step
// assertion made outside the harness.
func (h *Harness) Capture(ctx context.Context, reason, target string) string {
	return h.capture(ctx, reason, target)
}

func (h *Harness) capture(ctx context.Context, reason, target string) string {
	if h.capturer == nil {
		return ""
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.CaptureTimeout)
	defer cancel()
	artifact, err := h.capturer.Capture(cctx, h.session, reason, target)
	if err != nil {
		h.logger.Warn("failed to capture diagnostics",
			zap.String("reason", reason),
			zap.String("target", target),
			zap.Error(err))
	}
	return artifact
}

func (h *Harness) actionError(ctx context.Context, target, action string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ActionError{
		Target:   target,
		Action:   action,
		URL:      h.currentURL(ctx),
		Artifact: h.capture(ctx, action+"-error", target),
		Err:      err,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func trimPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
