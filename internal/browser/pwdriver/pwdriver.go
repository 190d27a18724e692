// Package pwdriver implements browser.Session with playwright-go.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/locator"
)

// Name is the driver name used in configuration.
const Name = "playwright"

// Session is a browser.Session on one Playwright page.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ browser.Session = (*Session)(nil)

// LaunchOptions translates launch options into Playwright's.
func LaunchOptions(opts browser.LaunchOptions) playwright.BrowserTypeLaunchOptions {
	lo := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.ChromeArgs(),
	}
	if opts.SlowMo > 0 {
		lo.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	if opts.ExecPath != "" {
		lo.ExecutablePath = playwright.String(opts.ExecPath)
	}
	return lo
}

// Launch starts Playwright and opens a page. With opts.RemoteURL set it
// connects to a running Playwright browser server instead of launching.
func Launch(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InstallBrowser {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("could not install playwright browsers: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}
	s := &Session{pw: pw, logger: logger, timeout: opts.ActionTimeout}
	if s.timeout <= 0 {
		s.timeout = browser.DefaultLaunchOptions().ActionTimeout
	}

	bt := browserType(pw, opts.BrowserName)
	if opts.RemoteURL != "" {
		s.browser, err = bt.Connect(opts.RemoteURL)
	} else {
		s.browser, err = bt.Launch(LaunchOptions(opts))
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}

	s.context, err = s.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.Width, Height: opts.Height},
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("could not create context: %w", err)
	}
	s.page, err = s.context.NewPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("could not create page: %w", err)
	}
	s.page.SetDefaultTimeout(float64(s.timeout.Milliseconds()))

	logger.Info("playwright session started",
		zap.String("browser", bt.Name()),
		zap.Bool("headless", opts.Headless),
		zap.String("remote_url", opts.RemoteURL))
	return s, nil
}

func browserType(pw *playwright.Playwright, name string) playwright.BrowserType {
	switch strings.ToLower(name) {
	case "firefox":
		return pw.Firefox
	case "webkit", "safari":
		return pw.WebKit
	}
	return pw.Chromium
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSessionClosed
	}
	return nil
}

// budget returns the Playwright timeout in milliseconds for a call under
// ctx: the action timeout, shortened to ctx's deadline.
func (s *Session) budget(ctx context.Context) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds())), nil
}

func (s *Session) wrap(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", browser.ErrSessionClosed, err)
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.check(); err != nil {
		return err
	}
	timeout, err := s.budget(ctx)
	if err != nil {
		return err
	}
	_, err = s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateCommit,
		Timeout:   timeout,
	})
	if err != nil && strings.Contains(err.Error(), "ERR_TOO_MANY_REDIRECTS") {
		return fmt.Errorf("redirect loop navigating to %s: %w", url, err)
	}
	return s.wrap(ctx, err)
}

func (s *Session) URL(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.page.URL(), nil
}

func (s *Session) ReadyState(ctx context.Context) (browser.ReadyState, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	v, err := s.page.Evaluate(browser.ReadyStateExpr)
	if err != nil {
		return "", s.wrap(ctx, err)
	}
	state, _ := v.(string)
	return browser.ReadyState(state), nil
}

func (s *Session) FindAll(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	q, err := browser.NewQuery(loc)
	if err != nil {
		return nil, err
	}
	all, err := s.page.Locator(q.Engine()).All()
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	out := make([]browser.Element, len(all))
	for i, l := range all {
		out[i] = &Element{session: s, loc: l}
	}
	return out, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	timeout, err := s.budget(ctx)
	if err != nil {
		return nil, err
	}
	png, err := s.page.Screenshot(playwright.PageScreenshotOptions{Timeout: timeout})
	return png, s.wrap(ctx, err)
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	html, err := s.page.Content()
	return html, s.wrap(ctx, err)
}

// Close releases the page, context, browser and the Playwright driver.
// Repeated calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("playwright session closed")
	return errors.Join(errs...)
}

// Element is one match of a Playwright locator, addressed by position.
type Element struct {
	session *Session
	loc     playwright.Locator
}

var _ browser.Element = (*Element)(nil)

func (e *Element) eval(ctx context.Context, script string) (interface{}, error) {
	if err := e.session.check(); err != nil {
		return nil, err
	}
	timeout, err := e.session.budget(ctx)
	if err != nil {
		return nil, err
	}
	v, err := e.loc.Evaluate(script, nil, playwright.LocatorEvaluateOptions{Timeout: timeout})
	return v, e.session.wrap(ctx, err)
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	if err := e.session.check(); err != nil {
		return false, err
	}
	ok, err := e.loc.IsVisible()
	return ok, e.session.wrap(ctx, err)
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	if err := e.session.check(); err != nil {
		return false, err
	}
	ok, err := e.loc.IsEnabled()
	return ok, e.session.wrap(ctx, err)
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	_, err := e.eval(ctx, browser.ScrollIntoViewScript)
	return err
}

func (e *Element) Clear(ctx context.Context) error {
	if err := e.session.check(); err != nil {
		return err
	}
	timeout, err := e.session.budget(ctx)
	if err != nil {
		return err
	}
	return e.session.wrap(ctx, e.loc.Clear(playwright.LocatorClearOptions{Timeout: timeout}))
}

func (e *Element) Type(ctx context.Context, text string) error {
	if err := e.session.check(); err != nil {
		return err
	}
	timeout, err := e.session.budget(ctx)
	if err != nil {
		return err
	}
	return e.session.wrap(ctx, e.loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{Timeout: timeout}))
}

func (e *Element) Click(ctx context.Context) error {
	if err := e.session.check(); err != nil {
		return err
	}
	timeout, err := e.session.budget(ctx)
	if err != nil {
		return err
	}
	return e.session.wrap(ctx, e.loc.Click(playwright.LocatorClickOptions{Timeout: timeout}))
}

func (e *Element) ScriptClick(ctx context.Context) error {
	_, err := e.eval(ctx, browser.ClickScript)
	return err
}

func (e *Element) Text(ctx context.Context) (string, error) {
	v, err := e.eval(ctx, browser.TextScript)
	if err != nil {
		return "", err
	}
	text, _ := v.(string)
	return text, nil
}

func (e *Element) Describe(ctx context.Context) string {
	v, err := e.eval(ctx, browser.DescribeScript)
	desc, _ := v.(string)
	if err != nil || desc == "" {
		return "<element>"
	}
	return desc
}
