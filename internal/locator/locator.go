// Package locator describes how logical page elements are found in the DOM.
//
// A Locator is a single selector plus the strategy used to interpret it. A
// Target groups several Locators for one logical element and tries them in
// priority order, so a minor markup change only invalidates one candidate.
package locator

import (
	"fmt"
	"strings"
)

// Strategy tells a driver how to interpret a selector string.
type Strategy string

const (
	CSS         Strategy = "css"
	XPath       Strategy = "xpath"
	Text        Strategy = "text"
	TestID      Strategy = "testid"
	Aria        Strategy = "aria"
	Placeholder Strategy = "placeholder"
)

// Strategies lists every supported strategy in documentation order.
var Strategies = []Strategy{CSS, XPath, Text, TestID, Aria, Placeholder}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// Locator identifies zero, one or many elements at query time. It carries no
// element references and is re-evaluated on every query.
type Locator struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Selector string   `yaml:"selector" json:"selector"`
	// Tag narrows text, testid, aria and placeholder lookups to one element
	// name (e.g. "button"). Ignored for css and xpath.
	Tag string `yaml:"tag,omitempty" json:"tag,omitempty"`
}

// New returns a locator for the given strategy and selector.
func New(strategy Strategy, selector string) Locator {
	return Locator{Strategy: strategy, Selector: selector}
}

// ByCSS returns a CSS locator.
func ByCSS(selector string) Locator { return New(CSS, selector) }

// ByXPath returns an XPath locator.
func ByXPath(selector string) Locator { return New(XPath, selector) }

// ByText returns a locator matching elements named tag whose normalized text
// contains text. An empty tag matches any element.
func ByText(tag, text string) Locator {
	return Locator{Strategy: Text, Selector: text, Tag: tag}
}

// ByTestID returns a locator matching the data-testid attribute.
func ByTestID(id string) Locator { return New(TestID, id) }

// ByAria returns a locator matching the aria-label attribute.
func ByAria(label string) Locator { return New(Aria, label) }

// ByPlaceholder returns a locator matching a placeholder fragment.
func ByPlaceholder(fragment string) Locator { return New(Placeholder, fragment) }

// Parse reads the "strategy=selector" form produced by String. A selector
// without a strategy prefix is treated as XPath when it starts with "/" or
// "(", and as CSS otherwise.
func Parse(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}
	if i := strings.Index(s, "="); i > 0 {
		prefix := Strategy(s[:i])
		if prefix.Valid() {
			rest := s[i+1:]
			loc := Locator{Strategy: prefix, Selector: rest}
			if prefix != CSS && prefix != XPath {
				if tag, sel, ok := strings.Cut(rest, "|"); ok && isTagName(tag) {
					loc.Tag, loc.Selector = tag, sel
				}
			}
			if loc.Selector == "" {
				return Locator{}, fmt.Errorf("locator %q has an empty selector", s)
			}
			return loc, nil
		}
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return ByXPath(s), nil
	}
	return ByCSS(s), nil
}

// String renders the locator as "strategy=selector", with "tag|" in front of
// the selector for tag-scoped strategies.
func (l Locator) String() string {
	if l.Tag != "" && l.Strategy != CSS && l.Strategy != XPath {
		return string(l.Strategy) + "=" + l.Tag + "|" + l.Selector
	}
	return string(l.Strategy) + "=" + l.Selector
}

// Validate checks the strategy and selector.
func (l Locator) Validate() error {
	if !l.Strategy.Valid() {
		return fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}
	if strings.TrimSpace(l.Selector) == "" {
		return fmt.Errorf("locator with strategy %q has an empty selector", l.Strategy)
	}
	if l.Tag != "" && !isTagName(l.Tag) {
		return fmt.Errorf("locator tag %q is not an element name", l.Tag)
	}
	return nil
}

// XPath renders the locator as an XPath expression. CSS locators cannot be
// converted and report false.
func (l Locator) XPath() (string, bool) {
	tag := l.Tag
	if tag == "" {
		tag = "*"
	}
	switch l.Strategy {
	case XPath:
		return l.Selector, true
	case Text:
		return fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, xpathLiteral(l.Selector)), true
	case TestID:
		return fmt.Sprintf("//%s[@data-testid=%s]", tag, xpathLiteral(l.Selector)), true
	case Aria:
		return fmt.Sprintf("//%s[@aria-label=%s]", tag, xpathLiteral(l.Selector)), true
	case Placeholder:
		return fmt.Sprintf("//%s[contains(@placeholder, %s)]", tag, xpathLiteral(l.Selector)), true
	}
	return "", false
}

// CSS renders the locator as a CSS selector. XPath and text locators cannot
// be converted and report false.
func (l Locator) CSS() (string, bool) {
	switch l.Strategy {
	case CSS:
		return l.Selector, true
	case TestID:
		return fmt.Sprintf(`%s[data-testid="%s"]`, l.Tag, cssEscape(l.Selector)), true
	case Aria:
		return fmt.Sprintf(`%s[aria-label="%s"]`, l.Tag, cssEscape(l.Selector)), true
	case Placeholder:
		return fmt.Sprintf(`%s[placeholder*="%s"]`, l.Tag, cssEscape(l.Selector)), true
	}
	return "", false
}

// xpathLiteral quotes s for use inside an XPath expression. XPath 1.0 has no
// escape sequences, so strings holding both quote kinds go through concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts)-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

func cssEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func isTagName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
