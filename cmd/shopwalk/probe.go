package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/shopwalk/internal/config"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the storefront answers over HTTP",
	Long: `Probe dials the storefront origin and requests the home and login
pages. With --detect it also tries localhost variants on common dev ports
and reports the first one that answers.`,
	RunE: runProbe,
}

var (
	detectFlag       bool
	probeTimeoutFlag time.Duration
)

func init() {
	probeCmd.Flags().BoolVar(&detectFlag, "detect", false, "Try local dev-server variants when the configured origin is down")
	probeCmd.Flags().DurationVar(&probeTimeoutFlag, "timeout", 3*time.Second, "HTTP timeout per request")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	base := current.manager.Get().Harness.BaseURL
	prober := config.DefaultProber()
	prober.Timeout = probeTimeoutFlag
	out := cmd.OutOrStdout()

	if detectFlag {
		found, err := prober.Detect(ctx, base)
		if err != nil {
			return fmt.Errorf("no reachable storefront near %s: %w", base, err)
		}
		if found != base {
			fmt.Fprintf(out, "🔎 %s is down, %s answers\n", base, found)
		}
		base = found
	}

	res, err := prober.Probe(ctx, base)
	if err != nil {
		return err
	}
	icon := "✅"
	if !res.Reachable() {
		icon = "❌"
	}
	fmt.Fprintf(out, "%s %s%s -> %d in %s (%d cookies)\n",
		icon, res.BaseURL, res.Path, res.Status, res.Duration.Round(time.Millisecond), res.Cookies)
	if !res.Reachable() {
		return fmt.Errorf("storefront answered %d", res.Status)
	}
	return nil
}
