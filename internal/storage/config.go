package storage

import (
	"fmt"
	"os"
	"strings"
)

// Config represents artifact storage configuration
type Config struct {
	// Backend type: "FS" or "MEM"
	Backend string `mapstructure:"backend"`

	// Filesystem backend settings
	FSBasePath string `mapstructure:"path"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	backend := strings.ToUpper(c.Backend)
	if backend != "FS" && backend != "MEM" {
		return fmt.Errorf("invalid backend type: %s (must be FS or MEM)", c.Backend)
	}
	c.Backend = backend

	if c.Backend == "FS" {
		if c.FSBasePath == "" {
			return fmt.Errorf("filesystem base path is required for FS backend")
		}
		if err := os.MkdirAll(c.FSBasePath, 0755); err != nil {
			return fmt.Errorf("cannot create filesystem base path: %w", err)
		}
		testFile := fmt.Sprintf("%s/.write_test", c.FSBasePath)
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			return fmt.Errorf("filesystem base path is not writable: %w", err)
		}
		os.Remove(testFile)
	}
	return nil
}

// CreateBackend creates a storage backend based on configuration
func (c *Config) CreateBackend() (Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	backend, err := DefaultFactory.Create(c.Backend, map[string]interface{}{
		"base_path": c.FSBasePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", c.Backend, err)
	}
	return backend, nil
}
