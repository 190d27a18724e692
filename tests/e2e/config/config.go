// Package config resolves the storefront and browser settings for the live
// journey tests from the same sources the shopwalk command reads.
package config

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	shopconfig "github.com/gotrs-io/shopwalk/internal/config"
)

// TestConfig holds the settings for live tests.
type TestConfig struct {
	*shopconfig.Config
	// Reachable is false when no candidate storefront answered the probe.
	Reachable bool
	// ProbeError explains why the storefront is unreachable.
	ProbeError error
}

var (
	loadOnce sync.Once
	loaded   *TestConfig
)

// GetConfig loads shopwalk.yaml, .env and SHOPWALK_* variables once per
// test binary. BASE_URL overrides the configured storefront.
func GetConfig() *TestConfig {
	loadOnce.Do(func() { loaded = load() })
	return loaded
}

func load() *TestConfig {
	m := shopconfig.NewManager(nil)
	if err := m.Load(os.Getenv("SHOPWALK_CONFIG"), ".env", "../../.env"); err != nil {
		return &TestConfig{Config: defaults(), ProbeError: err}
	}
	cfg := *m.Get()
	if forced := os.Getenv("BASE_URL"); forced != "" {
		cfg.Harness.BaseURL = forced
	}
	if os.Getenv("HEADLESS") == "false" {
		cfg.Browser.Headless = false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tc := &TestConfig{Config: &cfg}
	base := cfg.Harness.BaseURL
	if os.Getenv("E2E_BASEURL_AUTODETECT") != "false" {
		detected, err := shopconfig.DefaultProber().Detect(ctx, base)
		tc.Reachable = err == nil
		tc.ProbeError = err
		cfg.Harness.BaseURL = detected
	} else {
		res, err := shopconfig.DefaultProber().Probe(ctx, base)
		tc.Reachable = err == nil && res.Reachable()
		tc.ProbeError = err
	}
	log.Printf("[e2e-config] Resolved BaseURL=%s reachable=%v", cfg.Harness.BaseURL, tc.Reachable)
	return tc
}

func defaults() *shopconfig.Config {
	cfg := shopconfig.Default()
	return &cfg
}
