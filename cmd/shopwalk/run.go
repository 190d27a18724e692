package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/config"
	"github.com/gotrs-io/shopwalk/internal/harness"
	"github.com/gotrs-io/shopwalk/internal/report"
	"github.com/gotrs-io/shopwalk/internal/runner"
	"github.com/gotrs-io/shopwalk/internal/runstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the purchase journey once",
	Long: `Run launches a browser, walks the storefront journey once and exits
non-zero if any step fails. Failure artifacts and reports are written to the
configured artifact store; the run is recorded in history when enabled.`,
	RunE: runJourney,
}

var (
	productsFlag    []string
	verifyCartFlag  bool
	skipProbeFlag   bool
	jsonOutputFlag  bool
	reportDirFlag   string
	fallbackEmail   string
	fallbackPass    string
	stepTimeoutFlag string
)

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&productsFlag, "product", nil, "Product to search for and add to the cart (repeatable)")
	f.BoolVar(&verifyCartFlag, "verify-cart-count", false, "Require the cart count to grow by one after every add")
	f.BoolVar(&skipProbeFlag, "skip-probe", false, "Do not check that the storefront answers before launching the browser")
	f.BoolVar(&jsonOutputFlag, "json", false, "Print the run as JSON instead of a summary")
	f.StringVar(&reportDirFlag, "report-dir", "", "Also write report.md and report.html into this directory")
	f.StringVar(&fallbackEmail, "fallback-email", "", "Existing account used when registration is rejected")
	f.StringVar(&fallbackPass, "fallback-password", "", "Password of the fallback account")
	f.StringVar(&stepTimeoutFlag, "step-timeout", "", "Per-wait timeout, e.g. 15s")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays the run command's flags on the loaded config.
func applyRunFlags(cmd *cobra.Command, m *config.Manager) error {
	v := m.Viper()
	if cmd.Flags().Changed("product") {
		v.Set("journey.products", productsFlag)
	}
	if cmd.Flags().Changed("verify-cart-count") {
		v.Set("journey.verify_cart_count", verifyCartFlag)
	}
	if cmd.Flags().Changed("fallback-email") {
		v.Set("journey.fallback.email", fallbackEmail)
	}
	if cmd.Flags().Changed("fallback-password") {
		v.Set("journey.fallback.password", fallbackPass)
	}
	if cmd.Flags().Changed("step-timeout") {
		v.Set("journey.step_timeout", stepTimeoutFlag)
	}
	return m.Load(configPathFlag, envFileFlag)
}

func runJourney(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := applyRunFlags(cmd, current.manager); err != nil {
		return err
	}
	cfg := current.manager.Get()
	logger := current.logger

	if !skipProbeFlag {
		res, err := config.DefaultProber().Probe(ctx, cfg.Harness.BaseURL)
		if err != nil {
			return fmt.Errorf("storefront %s is unreachable: %w", cfg.Harness.BaseURL, err)
		}
		if !res.Reachable() {
			return fmt.Errorf("storefront %s answered %d", cfg.Harness.BaseURL, res.Status)
		}
		logger.Info("storefront reachable", zap.Int("status", res.Status), zap.Duration("latency", res.Duration))
	}

	exec, cleanup, err := newExecutor(ctx, cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	res, runErr := exec.Execute(ctx)
	if res == nil || res.Run == nil {
		return runErr
	}

	if reportDirFlag != "" {
		if err := writeReports(reportDirFlag, res.Run); err != nil {
			logger.Error("failed to write reports", zap.Error(err))
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutputFlag {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Run); err != nil {
			return err
		}
	} else {
		printSummary(out, res)
	}

	if runErr != nil {
		return &journeyFailedError{err: runErr}
	}
	return nil
}

// newExecutor wires storage, history and metrics for cfg. The returned
// cleanup closes the run store.
func newExecutor(ctx context.Context, cfg *config.Config, logger *zap.Logger, rm *runner.Metrics, hm *harness.Metrics) (*runner.Executor, func(), error) {
	store, err := cfg.Artifacts.CreateBackend()
	if err != nil {
		return nil, nil, fmt.Errorf("artifact storage: %w", err)
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	exec := &runner.Executor{
		Config:  current.manager.Get,
		Catalog: catalog,
		Store:   store,
		Logger:  logger,
		Tracer:  current.tracing.Tracer("github.com/gotrs-io/shopwalk/journey"),
		Harness: hm,
		Metrics: rm,
	}
	if cfg.History.Enabled {
		rs, err := openRunStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		exec.Runs = rs
		cleanup = func() {
			if err := rs.Close(); err != nil {
				logger.Warn("failed to close run store", zap.Error(err))
			}
		}
	}
	return exec, cleanup, nil
}

func openRunStore(ctx context.Context, cfg *config.Config) (*runstore.Store, error) {
	rs, err := runstore.Open(ctx, cfg.History.Config)
	if err != nil {
		return nil, fmt.Errorf("run history: %w", err)
	}
	if err := rs.Migrate(ctx); err != nil {
		_ = rs.Close()
		return nil, err
	}
	return rs, nil
}

func writeReports(dir string, run *report.Run) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(report.Markdown(run)), 0o644); err != nil {
		return err
	}
	page, err := report.HTML(run, run.FinishedAt)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "report.html"), page, 0o644)
}

func printSummary(w io.Writer, res *runner.Result) {
	run := res.Run
	fmt.Fprintf(w, "\nJourney %s against %s (%s)\n", run.ID, run.BaseURL, run.Driver)
	if run.Account != "" {
		fmt.Fprintf(w, "Account: %s\n", run.Account)
	}
	for _, step := range run.Steps {
		icon := "✅"
		switch step.Status {
		case report.StatusFailed:
			icon = "❌"
		case report.StatusSkipped:
			icon = "⏭️ "
		}
		line := fmt.Sprintf("%s %2d. %-22s", icon, step.Index, step.Name)
		if step.Status != report.StatusSkipped {
			line += " " + report.FormatDuration(step.Duration)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
		if step.Error != "" {
			fmt.Fprintf(w, "      %s\n", step.Error)
		}
		if step.Artifact != "" {
			fmt.Fprintf(w, "      artifact: %s\n", step.Artifact)
		}
	}
	fmt.Fprintf(w, "\n%s in %s: %d passed, %d failed, %d skipped\n",
		strings.ToUpper(string(run.Status)), report.FormatDuration(run.Duration()),
		run.Count(report.StatusPassed), run.Count(report.StatusFailed), run.Count(report.StatusSkipped))
	for _, ref := range res.Reports {
		fmt.Fprintf(w, "📝 %s\n", ref.Location)
	}
}
