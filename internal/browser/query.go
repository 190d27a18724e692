package browser

import (
	"fmt"

	"github.com/gotrs-io/shopwalk/internal/locator"
)

// Query is a locator rendered for a driver that understands CSS selectors
// and XPath expressions natively.
type Query struct {
	Expr  string
	XPath bool
}

// NewQuery renders loc, preferring CSS when the strategy allows it.
func NewQuery(loc locator.Locator) (Query, error) {
	if err := loc.Validate(); err != nil {
		return Query{}, err
	}
	if css, ok := loc.CSS(); ok {
		return Query{Expr: css}, nil
	}
	if xp, ok := loc.XPath(); ok {
		return Query{Expr: xp, XPath: true}, nil
	}
	return Query{}, fmt.Errorf("locator %s has no css or xpath form", loc)
}

// Engine returns the expression with an engine prefix, as in "css=..." or
// "xpath=...".
func (q Query) Engine() string {
	if q.XPath {
		return "xpath=" + q.Expr
	}
	return "css=" + q.Expr
}
