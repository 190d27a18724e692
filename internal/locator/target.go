package locator

import (
	"fmt"
	"strings"
)

// Cardinality states how many matches a Target candidate may produce.
type Cardinality string

const (
	// One requires exactly one match. A candidate matching several elements
	// is ambiguous and the next candidate is tried.
	One Cardinality = "one"
	// Many accepts any positive number of matches and acts on the first.
	Many Cardinality = "many"
)

// Target is a logical page element with an ordered list of candidate
// locators. Candidates are tried in order on every poll.
type Target struct {
	Name        string      `yaml:"-" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Cardinality Cardinality `yaml:"cardinality,omitempty" json:"cardinality"`
	Candidates  []Locator   `yaml:"candidates" json:"candidates"`
}

// NewTarget builds a Target requiring exactly one match.
func NewTarget(name string, candidates ...Locator) Target {
	return Target{Name: name, Cardinality: One, Candidates: candidates}
}

// NewMultiTarget builds a Target that accepts several matches.
func NewMultiTarget(name string, candidates ...Locator) Target {
	return Target{Name: name, Cardinality: Many, Candidates: candidates}
}

// AllowsMany reports whether several matches are acceptable.
func (t Target) AllowsMany() bool {
	return t.Cardinality == Many
}

// Validate checks the target has at least one well-formed candidate.
func (t Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target has no name")
	}
	switch t.Cardinality {
	case One, Many:
	default:
		return fmt.Errorf("target %s: unknown cardinality %q", t.Name, t.Cardinality)
	}
	if len(t.Candidates) == 0 {
		return fmt.Errorf("target %s: no candidates", t.Name)
	}
	for i, c := range t.Candidates {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("target %s candidate %d: %w", t.Name, i, err)
		}
	}
	return nil
}

// String lists the candidates in priority order.
func (t Target) String() string {
	parts := make([]string, len(t.Candidates))
	for i, c := range t.Candidates {
		parts[i] = c.String()
	}
	return t.Name + "[" + strings.Join(parts, " | ") + "]"
}
