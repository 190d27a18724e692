package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/shopwalk/internal/journey"
	"github.com/gotrs-io/shopwalk/internal/locator"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the locator catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a catalog overlay against the schema and the journey's needs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCatalogValidate,
}

var catalogListFlag bool

func init() {
	catalogValidateCmd.Flags().BoolVar(&catalogListFlag, "list", false, "Print every target with its candidates")
	catalogCmd.AddCommand(catalogValidateCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	var (
		cat    *locator.Catalog
		source = "embedded catalog"
		err    error
	)
	switch {
	case len(args) == 1:
		source = args[0]
		cat, err = locator.LoadFile(args[0])
	default:
		cfg := current.manager.Get()
		if cfg.Catalog.Path != "" {
			source = cfg.Catalog.Path
		}
		cat, err = loadCatalog(cfg)
	}
	if err != nil {
		return err
	}
	if err := cat.Require(journey.RequiredTargets...); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	out := cmd.OutOrStdout()
	if catalogListFlag {
		for _, name := range cat.Names() {
			t := cat.MustGet(name)
			fmt.Fprintf(out, "%s (%s)\n", name, t.Cardinality)
			for _, c := range t.Candidates {
				fmt.Fprintf(out, "    %s\n", c)
			}
		}
	}
	fmt.Fprintf(out, "✅ %s: %d targets, all %d journey targets present\n",
		source, cat.Len(), len(journey.RequiredTargets))
	return nil
}
