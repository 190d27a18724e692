package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/shopwalk/internal/monitor"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for triggering runs through the monitor",
	Long: `Token signs a token with watch.token_secret. Send it as
"Authorization: Bearer <token>" on POST /runs.`,
	RunE: runToken,
}

var (
	tokenSubjectFlag string
	tokenTTLFlag     time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubjectFlag, "subject", "cli", "Who the token is for")
	tokenCmd.Flags().DurationVar(&tokenTTLFlag, "ttl", 24*time.Hour, "Token lifetime; 0 never expires")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := current.manager.Get().Watch.TokenSecret
	if secret == "" {
		return errors.New("watch.token_secret is not set (SHOPWALK_WATCH_TOKEN_SECRET)")
	}
	token, err := monitor.NewTokenManager(secret, tokenTTLFlag).Generate(tokenSubjectFlag)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
