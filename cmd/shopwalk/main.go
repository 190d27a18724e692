// Command shopwalk drives a storefront through its purchase journey in a
// real browser and reports where it breaks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/config"
	"github.com/gotrs-io/shopwalk/internal/locator"
	"github.com/gotrs-io/shopwalk/internal/logging"
	"github.com/gotrs-io/shopwalk/internal/tracing"
	"github.com/gotrs-io/shopwalk/internal/version"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	manager *config.Manager
	logger  *zap.Logger
	tracing *tracing.Provider
}

var (
	configPathFlag string
	envFileFlag    string
	current        = &app{}
)

var rootCmd = &cobra.Command{
	Use:   "shopwalk",
	Short: "Storefront UI journey harness",
	Long: `shopwalk registers a throwaway customer on a storefront, searches for
products, fills the cart, checks out and visits the account dashboard in a
real browser. Every failure is reported with a screenshot and a DOM dump.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown(cmd.Context())
	},
}

// flagBindings maps persistent flags to configuration keys.
var flagBindings = map[string]string{
	"base-url":   "harness.base_url",
	"driver":     "browser.driver",
	"headless":   "browser.headless",
	"remote-url": "browser.remote_url",
	"catalog":    "catalog.path",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"trace":      "tracing.exporter",
}

func init() {
	// Assigned here rather than in the literal: setup refers to rootCmd,
	// which would otherwise form an initialization cycle.
	rootCmd.PersistentPreRunE = setup
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPathFlag, "config", "c", "", "Config file (default ./shopwalk.yaml if present)")
	pf.StringVar(&envFileFlag, "env-file", ".env", "Dotenv file loaded before the environment is read")
	pf.String("base-url", "", "Storefront origin, e.g. http://localhost:3000")
	pf.String("driver", "", "Browser driver: chromedp, playwright or webdriver")
	pf.Bool("headless", true, "Run the browser without a window")
	pf.String("remote-url", "", "WebDriver hub or DevTools websocket to connect to instead of launching")
	pf.String("catalog", "", "Locator catalog overlay file")
	pf.String("log-level", "", "Log level: debug, info, warn or error")
	pf.String("log-format", "", "Log format: console or json")
	pf.String("trace", "", "Span exporter: none or stdout")
}

func setup(cmd *cobra.Command, args []string) error {
	m := config.NewManager(nil)
	for flag, key := range flagBindings {
		f := rootCmd.PersistentFlags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := m.Viper().BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	if err := m.Load(configPathFlag, envFileFlag); err != nil {
		return err
	}
	cfg := m.Get()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	m.SetLogger(logger)
	for _, w := range m.Warnings() {
		logger.Warn("config: " + w)
	}

	tp, err := tracing.Setup(cfg.Tracing)
	if err != nil {
		return err
	}

	current.manager = m
	current.logger = logger
	current.tracing = tp
	return nil
}

func teardown(ctx context.Context) error {
	if current.tracing != nil {
		if err := current.tracing.Shutdown(context.WithoutCancel(ctx)); err != nil {
			current.logger.Warn("failed to flush spans", zap.Error(err))
		}
	}
	if current.logger != nil {
		_ = current.logger.Sync()
	}
	return nil
}

// loadCatalog returns the configured catalog overlay or the embedded one.
func loadCatalog(cfg *config.Config) (*locator.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return locator.Default(), nil
	}
	return locator.LoadFile(cfg.Catalog.Path)
}

// exitCode maps command errors to process exit codes. A failed journey is
// 1; configuration and usage problems are 2; an interrupted run is 130.
func exitCode(err error) int {
	var jf *journeyFailedError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case errors.As(err, &jf):
		return 1
	}
	return 2
}

// journeyFailedError marks errors coming from a journey step rather than
// from setup.
type journeyFailedError struct{ err error }

func (e *journeyFailedError) Error() string { return e.err.Error() }
func (e *journeyFailedError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
	os.Exit(exitCode(err))
}
