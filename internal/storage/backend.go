// Package storage persists run artifacts (screenshots, DOM dumps, reports)
// behind a pluggable backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Backend defines the interface for artifact storage backends
type Backend interface {
	// Store saves an artifact and returns a reference to it
	Store(ctx context.Context, runID string, artifact *Artifact) (*Reference, error)

	// Retrieve loads an artifact by reference
	Retrieve(ctx context.Context, ref *Reference) (*Artifact, error)

	// Delete removes an artifact
	Delete(ctx context.Context, ref *Reference) error

	// Exists checks if an artifact exists
	Exists(ctx context.Context, ref *Reference) (bool, error)

	// List returns all references stored for a run
	List(ctx context.Context, runID string) ([]*Reference, error)

	// GetInfo returns backend information
	GetInfo() *BackendInfo

	// HealthCheck verifies backend is operational
	HealthCheck(ctx context.Context) error
}

// Artifact is one file produced during a run.
type Artifact struct {
	Name        string
	ContentType string
	Content     []byte
	Metadata    map[string]string
	CreatedTime time.Time
}

// Reference points to a stored artifact
type Reference struct {
	RunID       string    `json:"run_id"`
	Backend     string    `json:"backend"`
	Location    string    `json:"location"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	CreatedTime time.Time `json:"created_time"`
}

// BackendInfo provides information about a storage backend
type BackendInfo struct {
	Name         string
	Type         string
	Capabilities []string
	Status       string
	Statistics   *BackendStats
}

// BackendStats contains usage statistics
type BackendStats struct {
	TotalFiles int64
	TotalSize  int64
}

// Content types used for artifacts.
const (
	ContentTypePNG      = "image/png"
	ContentTypeHTML     = "text/html"
	ContentTypeMarkdown = "text/markdown"
	ContentTypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// BackendConstructor creates a new backend instance
type BackendConstructor func(config map[string]interface{}) (Backend, error)

// Factory creates storage backends by type name
type Factory struct {
	constructors map[string]BackendConstructor
}

// DefaultFactory is the global storage backend factory
var DefaultFactory = NewFactory()

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]BackendConstructor)}
}

// Create instantiates a storage backend
func (f *Factory) Create(backendType string, config map[string]interface{}) (Backend, error) {
	constructor, exists := f.constructors[backendType]
	if !exists {
		return nil, fmt.Errorf("unknown storage backend type: %s", backendType)
	}
	return constructor(config)
}

// Register adds a new backend type
func (f *Factory) Register(backendType string, constructor BackendConstructor) {
	f.constructors[backendType] = constructor
}

// List returns available backend types
func (f *Factory) List() []string {
	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
