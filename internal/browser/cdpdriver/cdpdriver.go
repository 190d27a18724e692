// Package cdpdriver implements browser.Session over the Chrome DevTools
// Protocol with chromedp.
package cdpdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/locator"
)

// Name is the driver name used in configuration.
const Name = "chromedp"

// Session is a browser.Session backed by one Chrome tab.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	timeout time.Duration
	slowMo  time.Duration
	logger  *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ browser.Session = (*Session)(nil)

// AllocatorOptions translates launch options into chromedp exec allocator
// options.
func AllocatorOptions(opts browser.LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		out = append(out, chromedp.Flag("headless", false))
	}
	if opts.DisableGPU {
		out = append(out, chromedp.DisableGPU)
	}
	if opts.NoSandbox {
		out = append(out, chromedp.NoSandbox)
	}
	if opts.DisableDevShmUsage {
		out = append(out, chromedp.Flag("disable-dev-shm-usage", true))
	}
	if opts.DisableNotifications {
		out = append(out, chromedp.Flag("disable-notifications", true))
	}
	if opts.Width > 0 && opts.Height > 0 {
		out = append(out, chromedp.WindowSize(opts.Width, opts.Height))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// Launch starts Chrome, or attaches to the DevTools endpoint in
// opts.RemoteURL, and opens a tab.
func Launch(ctx context.Context, opts browser.LaunchOptions, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := context.WithoutCancel(ctx)

	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(base, opts.RemoteURL)
	} else {
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(base, AllocatorOptions(opts)...)
	}

	sugar := logger.Sugar()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf))

	s := &Session{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		timeout:     opts.ActionTimeout,
		slowMo:      opts.SlowMo,
		logger:      logger,
	}
	if s.timeout <= 0 {
		s.timeout = browser.DefaultLaunchOptions().ActionTimeout
	}

	// The first Run allocates the browser. It must happen on the tab
	// context itself so that later per-call timeouts never tear it down.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	logger.Info("chrome session started",
		zap.Bool("headless", opts.Headless),
		zap.String("remote_url", opts.RemoteURL))
	return s, nil
}

// run executes actions on the tab, bounded by the action timeout and by
// ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return browser.ErrSessionClosed
	}
	if s.slowMo > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.slowMo):
		}
	}
	rctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case s.closed.Load():
		return browser.ErrSessionClosed
	}
	return classify(err)
}

// classify maps protocol errors onto the browser sentinel errors.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "node with given id"), strings.Contains(msg, "Node is detached"):
		return fmt.Errorf("%w: %v", browser.ErrStaleElement, err)
	case errors.Is(err, chromedp.ErrInvalidContext), strings.Contains(msg, "target closed"):
		return fmt.Errorf("%w: %v", browser.ErrSessionClosed, err)
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Evaluate(browser.LocationExpr, &u))
	return u, err
}

func (s *Session) ReadyState(ctx context.Context) (browser.ReadyState, error) {
	var state string
	err := s.run(ctx, chromedp.Evaluate(browser.ReadyStateExpr, &state))
	return browser.ReadyState(state), err
}

func (s *Session) FindAll(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	q, err := browser.NewQuery(loc)
	if err != nil {
		return nil, err
	}
	by := chromedp.ByQueryAll
	if q.XPath {
		by = chromedp.BySearch
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(q.Expr, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeType != cdp.NodeTypeElement {
			continue
		}
		out = append(out, &Element{session: s, node: n})
	}
	return out, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.Evaluate(browser.OuterHTMLExpr, &html))
	return html, err
}

// Close shuts the browser down. Repeated calls are no-ops.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = chromedp.Cancel(s.ctx)
		s.cancelTab()
		s.cancelAlloc()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		s.logger.Info("chrome session closed")
	})
	return err
}

// Element is a DOM node tracked by chromedp.
type Element struct {
	session *Session
	node    *cdp.Node
}

var _ browser.Element = (*Element)(nil)

// call runs a browser element script with the node as its argument and
// decodes the returned value into res.
func (e *Element) call(ctx context.Context, script string, res interface{}) error {
	return e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = runtime.ReleaseObject(obj.ObjectID).Do(ctx)
		}()
		value, exc, err := runtime.CallFunctionOn(script).
			WithObjectID(obj.ObjectID).
			WithArguments([]*runtime.CallArgument{{ObjectID: obj.ObjectID}}).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if res == nil || value == nil || len(value.Value) == 0 {
			return nil
		}
		return json.Unmarshal(value.Value, res)
	}))
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, browser.VisibleScript, &ok)
	return ok, err
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, browser.EnabledScript, &ok)
	return ok, err
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	return e.call(ctx, browser.ScrollIntoViewScript, nil)
}

func (e *Element) Clear(ctx context.Context) error {
	return e.call(ctx, browser.ClearScript, nil)
}

func (e *Element) Type(ctx context.Context, text string) error {
	return e.session.run(ctx, chromedp.KeyEventNode(e.node, text))
}

func (e *Element) Click(ctx context.Context) error {
	return e.session.run(ctx, chromedp.MouseClickNode(e.node))
}

func (e *Element) ScriptClick(ctx context.Context) error {
	return e.call(ctx, browser.ClickScript, nil)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.call(ctx, browser.TextScript, &text)
	return text, err
}

func (e *Element) Describe(ctx context.Context) string {
	var desc string
	if err := e.call(ctx, browser.DescribeScript, &desc); err != nil || desc == "" {
		return "<" + strings.ToLower(e.node.NodeName) + ">"
	}
	return desc
}
