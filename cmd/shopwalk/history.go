package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/gotrs-io/shopwalk/internal/report"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded journey runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the markdown report of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export runs and their steps to an XLSX workbook",
	RunE:  runHistoryExport,
}

var (
	historyLimitFlag int
	exportOutFlag    string
)

func init() {
	historyListCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "How many runs to show; 0 for all")
	historyExportCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 0, "How many runs to export; 0 for all")
	historyExportCmd.Flags().StringVarP(&exportOutFlag, "out", "o", "shopwalk-history.xlsx", "Output workbook path")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rs, err := openRunStore(ctx, current.manager.Get())
	if err != nil {
		return err
	}
	defer rs.Close()

	runs, err := rs.ListRuns(ctx, historyLimitFlag)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tDRIVER\tSTARTED\tDURATION\tFAILED STEP")
	for _, run := range runs {
		failed := "-"
		if step := run.FailedStep(); step != nil {
			failed = step.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Status, run.Driver,
			timeago.English.FormatReference(run.StartedAt, now),
			report.FormatDuration(run.Duration()), failed)
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rs, err := openRunStore(ctx, current.manager.Get())
	if err != nil {
		return err
	}
	defer rs.Close()

	run, err := rs.GetRun(ctx, args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Markdown(run))
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rs, err := openRunStore(ctx, current.manager.Get())
	if err != nil {
		return err
	}
	defer rs.Close()

	runs, err := rs.ListRuns(ctx, historyLimitFlag)
	if err != nil {
		return err
	}
	if err := report.ExportXLSX(runs, exportOutFlag); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "📊 Exported %d runs to %s\n", len(runs), exportOutFlag)
	return nil
}
