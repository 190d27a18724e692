// Package browsertest provides a scriptable in-memory browser.Session for
// unit tests of code built on the harness.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gotrs-io/shopwalk/internal/browser"
	"github.com/gotrs-io/shopwalk/internal/locator"
)

// Session is a fake browser.Session. Elements are registered per locator
// string and returned verbatim by FindAll.
type Session struct {
	mu sync.Mutex

	url        string
	urls       []string
	ready      []browser.ReadyState
	elements   map[string][]*Element
	delays     map[string]int
	findErrors map[string][]error
	html       string
	screenshot []byte

	// OnNavigate runs after every successful Navigate with the new URL. Tests
	// use it to swap the registered elements for the new page.
	OnNavigate  func(s *Session, url string)
	NavigateErr error

	Navigations []string
	FindCalls   map[string]int
	CloseCount  int
	closed      bool
}

var _ browser.Session = (*Session)(nil)

// New returns an empty session parked at url with a complete document.
func New(url string) *Session {
	return &Session{
		url:        url,
		elements:   make(map[string][]*Element),
		delays:     make(map[string]int),
		findErrors: make(map[string][]error),
		FindCalls:  make(map[string]int),
		html:       "<html><head></head><body></body></html>",
		screenshot: []byte("\x89PNG\r\n\x1a\nfake"),
	}
}

// Set registers the elements returned for loc, replacing earlier ones.
func (s *Session) Set(loc locator.Locator, els ...*Element) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, el := range els {
		el.session = s
	}
	s.elements[loc.String()] = els
	return s
}

// Remove drops every element registered for loc.
func (s *Session) Remove(loc locator.Locator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, loc.String())
}

// Reset drops every registered element.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = make(map[string][]*Element)
	s.delays = make(map[string]int)
}

// Delay makes the first n FindAll calls for loc return no elements.
func (s *Session) Delay(loc locator.Locator, n int) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[loc.String()] = n
	return s
}

// FailFind queues errors returned by successive FindAll calls for loc.
func (s *Session) FailFind(loc locator.Locator, errs ...error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := loc.String()
	s.findErrors[key] = append(s.findErrors[key], errs...)
	return s
}

// SetURL moves the session to url without recording a navigation.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.urls = nil
}

// URLSequence makes successive URL calls return urls in order. The last
// entry then becomes the current URL.
func (s *Session) URLSequence(urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append([]string(nil), urls...)
}

// ReadySequence makes successive ReadyState calls return states in order,
// then complete.
func (s *Session) ReadySequence(states ...browser.ReadyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append([]browser.ReadyState(nil), states...)
}

// SetHTML sets the document returned by HTML.
func (s *Session) SetHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.NavigateErr != nil {
		err := s.NavigateErr
		s.mu.Unlock()
		return err
	}
	s.url = url
	s.urls = nil
	s.Navigations = append(s.Navigations, url)
	hook := s.OnNavigate
	s.mu.Unlock()

	if hook != nil {
		hook(s, url)
	}
	return nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrSessionClosed
	}
	if len(s.urls) > 0 {
		s.url = s.urls[0]
		s.urls = s.urls[1:]
	}
	return s.url, nil
}

func (s *Session) ReadyState(ctx context.Context) (browser.ReadyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrSessionClosed
	}
	if len(s.ready) > 0 {
		state := s.ready[0]
		s.ready = s.ready[1:]
		return state, nil
	}
	return browser.ReadyComplete, nil
}

func (s *Session) FindAll(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := loc.String()
	s.FindCalls[key]++
	if errs := s.findErrors[key]; len(errs) > 0 {
		s.findErrors[key] = errs[1:]
		return nil, errs[0]
	}
	if n := s.delays[key]; n > 0 {
		s.delays[key] = n - 1
		return nil, nil
	}
	els := s.elements[key]
	out := make([]browser.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSessionClosed
	}
	return append([]byte(nil), s.screenshot...), nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrSessionClosed
	}
	return s.html, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	s.closed = true
	return nil
}

// Element is a fake DOM node.
type Element struct {
	Tag      string
	Label    string
	Hidden   bool
	Disabled bool
	Stale    bool
	Value    string

	// HiddenFor keeps the element invisible for that many Visible calls.
	HiddenFor int
	// ClickErr is returned by Click and ScriptClick when set.
	ClickErr error
	// OnClick runs after every successful click, native or scripted.
	OnClick func(s *Session)

	Clicks       int
	ScriptClicks int
	Scrolls      int
	Clears       int

	session *Session
}

var _ browser.Element = (*Element)(nil)

// Button returns a visible, enabled button labelled text.
func Button(text string) *Element {
	return &Element{Tag: "button", Label: text}
}

// Input returns an empty visible input.
func Input(name string) *Element {
	return &Element{Tag: "input", Label: name}
}

// Node returns a visible element of the given tag with inner text.
func Node(tag, text string) *Element {
	return &Element{Tag: tag, Label: text}
}

// Nodes returns n visible elements of the given tag.
func Nodes(tag string, n int) []*Element {
	els := make([]*Element, n)
	for i := range els {
		els[i] = Node(tag, fmt.Sprintf("%s %d", tag, i+1))
	}
	return els
}

func (e *Element) lock() func() {
	if e.session == nil {
		return func() {}
	}
	e.session.mu.Lock()
	return e.session.mu.Unlock
}

func (e *Element) check() error {
	if e.Stale {
		return browser.ErrStaleElement
	}
	if e.session != nil && e.session.closed {
		return browser.ErrSessionClosed
	}
	return nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	defer e.lock()()
	if err := e.check(); err != nil {
		return false, err
	}
	if e.HiddenFor > 0 {
		e.HiddenFor--
		return false, nil
	}
	return !e.Hidden, nil
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	defer e.lock()()
	if err := e.check(); err != nil {
		return false, err
	}
	return !e.Disabled, nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	defer e.lock()()
	if err := e.check(); err != nil {
		return err
	}
	e.Scrolls++
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	defer e.lock()()
	if err := e.check(); err != nil {
		return err
	}
	e.Clears++
	e.Value = ""
	return nil
}

func (e *Element) Type(ctx context.Context, text string) error {
	defer e.lock()()
	if err := e.check(); err != nil {
		return err
	}
	for _, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.Value += string(r)
	}
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	return e.click(false)
}

func (e *Element) ScriptClick(ctx context.Context) error {
	return e.click(true)
}

func (e *Element) click(script bool) error {
	unlock := e.lock()
	if err := e.check(); err != nil {
		unlock()
		return err
	}
	if e.ClickErr != nil {
		unlock()
		return e.ClickErr
	}
	if script {
		e.ScriptClicks++
	} else {
		e.Clicks++
	}
	hook, s := e.OnClick, e.session
	unlock()

	if hook != nil {
		hook(s)
	}
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	defer e.lock()()
	if err := e.check(); err != nil {
		return "", err
	}
	if e.Value != "" {
		return e.Value, nil
	}
	return e.Label, nil
}

func (e *Element) Describe(ctx context.Context) string {
	defer e.lock()()
	tag := e.Tag
	if tag == "" {
		tag = "div"
	}
	return strings.TrimSpace(fmt.Sprintf("<%s> %s", tag, e.Label))
}
