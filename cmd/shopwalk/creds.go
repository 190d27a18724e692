package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/shopwalk/internal/credentials"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Generate throwaway customer credentials",
	RunE:  runCreds,
}

var (
	credsCountFlag int
	showPassFlag   bool
	credsJSONFlag  bool
)

func init() {
	credsCmd.Flags().IntVarP(&credsCountFlag, "count", "n", 1, "How many sets to generate")
	credsCmd.Flags().BoolVar(&showPassFlag, "show-password", false, "Print passwords in clear text")
	credsCmd.Flags().BoolVar(&credsJSONFlag, "json", false, "Print as JSON")
	rootCmd.AddCommand(credsCmd)
}

func runCreds(cmd *cobra.Command, args []string) error {
	if credsCountFlag < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	gen := current.manager.Get().Generator()
	out := cmd.OutOrStdout()

	all := make([]credentials.Credentials, 0, credsCountFlag)
	for i := 0; i < credsCountFlag; i++ {
		c := gen.Generate()
		if !showPassFlag {
			c = c.Masked()
		}
		all = append(all, c)
	}

	if credsJSONFlag {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	for _, c := range all {
		fmt.Fprintf(out, "%-18s %-40s %-18s %s\n", c.Name, c.Email, c.Phone, c.Password)
	}
	return nil
}
