// Package wddriver implements browser.Session against a remote WebDriver
// endpoint such as a Selenium hub or a standalone chromedriver.
package wddriver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/locator"
)

// Name is the driver name used in configuration.
const Name = "webdriver"

// DefaultRemoteURL is the Selenium hub address used when none is set.
const DefaultRemoteURL = "http://localhost:4444/wd/hub"

// Session is a browser.Session on one WebDriver session.
type Session struct {
	wd     selenium.WebDriver
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ browser.Session = (*Session)(nil)

// Capabilities builds the WebDriver capabilities for opts.
func Capabilities(opts browser.LaunchOptions) selenium.Capabilities {
	name := opts.BrowserName
	if name == "" {
		name = "chrome"
	}
	caps := selenium.Capabilities{"browserName": name}
	if name == "chrome" || name == "chromium" {
		caps["browserName"] = "chrome"
		caps.AddChrome(chrome.Capabilities{
			Args: opts.ChromeArgs(),
			Path: opts.ExecPath,
		})
	}
	return caps
}

// Launch opens a WebDriver session at opts.RemoteURL.
func Launch(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	remote := opts.RemoteURL
	if remote == "" {
		remote = DefaultRemoteURL
	}
	wd, err := selenium.NewRemote(Capabilities(opts), remote)
	if err != nil {
		return nil, fmt.Errorf("could not open webdriver session at %s: %w", remote, err)
	}
	s := &Session{wd: wd, logger: logger}

	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = browser.DefaultLaunchOptions().ActionTimeout
	}
	if err := wd.SetPageLoadTimeout(timeout); err != nil {
		logger.Warn("could not set page load timeout", zap.Error(err))
	}
	if err := wd.SetAsyncScriptTimeout(timeout); err != nil {
		logger.Warn("could not set script timeout", zap.Error(err))
	}
	if opts.Width > 0 && opts.Height > 0 {
		if err := wd.ResizeWindow("", opts.Width, opts.Height); err != nil {
			logger.Warn("could not resize window", zap.Error(err))
		}
	}
	logger.Info("webdriver session started",
		zap.String("remote_url", remote),
		zap.String("browser", opts.BrowserName))
	return s, nil
}

func (s *Session) check(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return browser.ErrSessionClosed
	}
	return ctx.Err()
}

// classify maps WebDriver error codes onto the browser sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "stale element reference"):
		return fmt.Errorf("%w: %v", browser.ErrStaleElement, err)
	case strings.Contains(msg, "invalid session id"), strings.Contains(msg, "no such window"):
		return fmt.Errorf("%w: %v", browser.ErrSessionClosed, err)
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return classify(s.wd.Get(url))
}

func (s *Session) URL(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	u, err := s.wd.CurrentURL()
	return u, classify(err)
}

func (s *Session) ReadyState(ctx context.Context) (browser.ReadyState, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	v, err := s.wd.ExecuteScript("return "+browser.ReadyStateExpr+";", nil)
	if err != nil {
		return "", classify(err)
	}
	state, _ := v.(string)
	return browser.ReadyState(state), nil
}

func (s *Session) FindAll(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	q, err := browser.NewQuery(loc)
	if err != nil {
		return nil, err
	}
	by := selenium.ByCSSSelector
	if q.XPath {
		by = selenium.ByXPATH
	}
	found, err := s.wd.FindElements(by, q.Expr)
	if err != nil {
		// Some drivers report an empty result as "no such element".
		if strings.Contains(err.Error(), "no such element") {
			return nil, nil
		}
		return nil, classify(err)
	}
	out := make([]browser.Element, len(found))
	for i, we := range found {
		out[i] = &Element{session: s, we: we}
	}
	return out, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	png, err := s.wd.Screenshot()
	return png, classify(err)
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	html, err := s.wd.PageSource()
	return html, classify(err)
}

// Close quits the WebDriver session. Repeated calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.wd.Quit()
	s.logger.Info("webdriver session closed")
	return err
}

// Element wraps a WebDriver element reference.
type Element struct {
	session *Session
	we      selenium.WebElement
}

var _ browser.Element = (*Element)(nil)

// exec runs an element script with the element as its argument.
func (e *Element) exec(ctx context.Context, script string) (interface{}, error) {
	if err := e.session.check(ctx); err != nil {
		return nil, err
	}
	v, err := e.session.wd.ExecuteScript("return ("+script+")(arguments[0]);", []interface{}{e.we})
	return v, classify(err)
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	if err := e.session.check(ctx); err != nil {
		return false, err
	}
	ok, err := e.we.IsDisplayed()
	return ok, classify(err)
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	v, err := e.exec(ctx, browser.EnabledScript)
	if err != nil {
		return false, err
	}
	ok, _ := v.(bool)
	return ok, nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	_, err := e.exec(ctx, browser.ScrollIntoViewScript)
	return err
}

func (e *Element) Clear(ctx context.Context) error {
	if err := e.session.check(ctx); err != nil {
		return err
	}
	if err := e.we.Clear(); err != nil {
		return classify(err)
	}
	_, err := e.exec(ctx, browser.ClearScript)
	return err
}

// Type sends one key event per rune so input handlers fire for every
// character.
func (e *Element) Type(ctx context.Context, text string) error {
	for _, r := range text {
		if err := e.session.check(ctx); err != nil {
			return err
		}
		if err := e.we.SendKeys(string(r)); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	if err := e.session.check(ctx); err != nil {
		return err
	}
	return classify(e.we.Click())
}

func (e *Element) ScriptClick(ctx context.Context) error {
	_, err := e.exec(ctx, browser.ClickScript)
	return err
}

func (e *Element) Text(ctx context.Context) (string, error) {
	v, err := e.exec(ctx, browser.TextScript)
	if err != nil {
		return "", err
	}
	text, _ := v.(string)
	return text, nil
}

func (e *Element) Describe(ctx context.Context) string {
	v, err := e.exec(ctx, browser.DescribeScript)
	if desc, ok := v.(string); err == nil && ok && desc != "" {
		return desc
	}
	if tag, err := e.we.TagName(); err == nil {
		return "<" + tag + ">"
	}
	return "<element>"
}
