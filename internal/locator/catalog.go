package locator

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

//go:embed schema.json
var catalogSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func catalogSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(catalogSchemaJSON))
	})
	return schema, schemaErr
}

// Catalog maps logical element names to Targets.
type Catalog struct {
	targets map[string]Target
}

type catalogDocument struct {
	Version int               `yaml:"version"`
	Targets map[string]Target `yaml:"targets"`
}

// ValidationError lists every schema violation found in a catalog document.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog %s is invalid: %s", e.Source, strings.Join(e.Problems, "; "))
}

// Default returns the embedded storefront catalog.
func Default() *Catalog {
	c, err := ParseCatalog("embedded", defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded locator catalog: %v", err))
	}
	return c
}

// ParseCatalog validates a YAML catalog document and builds a Catalog from it.
// source names the document in error messages.
func ParseCatalog(source string, data []byte) (*Catalog, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", source, err)
	}
	if err := validateDocument(source, raw); err != nil {
		return nil, err
	}

	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", source, err)
	}

	c := &Catalog{targets: make(map[string]Target, len(doc.Targets))}
	for name, t := range doc.Targets {
		t.Name = name
		if t.Cardinality == "" {
			t.Cardinality = One
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", source, err)
		}
		c.targets[name] = t
	}
	return c, nil
}

func validateDocument(source string, raw interface{}) error {
	s, err := catalogSchema()
	if err != nil {
		return fmt.Errorf("failed to compile catalog schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate catalog %s: %w", source, err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{Source: source}
	for _, desc := range result.Errors() {
		verr.Problems = append(verr.Problems, desc.String())
	}
	return verr
}

// LoadFile reads a catalog file and overlays it on the default catalog.
// Targets in the file replace default targets of the same name.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	overlay, err := ParseCatalog(path, data)
	if err != nil {
		return nil, err
	}
	return Default().Overlay(overlay), nil
}

// Overlay returns a new catalog holding c's targets replaced by other's.
func (c *Catalog) Overlay(other *Catalog) *Catalog {
	merged := &Catalog{targets: make(map[string]Target, len(c.targets)+len(other.targets))}
	for name, t := range c.targets {
		merged.targets[name] = t
	}
	for name, t := range other.targets {
		merged.targets[name] = t
	}
	return merged
}

// Get returns the named target.
func (c *Catalog) Get(name string) (Target, error) {
	t, ok := c.targets[name]
	if !ok {
		return Target{}, fmt.Errorf("unknown target %q", name)
	}
	return t, nil
}

// MustGet returns the named target and panics if it is missing.
func (c *Catalog) MustGet(name string) Target {
	t, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Require checks that every name is defined.
func (c *Catalog) Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := c.targets[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("catalog is missing targets: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Names returns the target names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.targets))
	for name := range c.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of targets.
func (c *Catalog) Len() int {
	return len(c.targets)
}
