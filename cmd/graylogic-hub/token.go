package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/api"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token",
	Long: `Signs an HS256 bearer token with security.jwt.secret from the config
(or GRAYLOGIC_JWT_SECRET). The token is printed to stdout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			return fmt.Errorf("ttl must be positive, got %s", ttl)
		}

		cfg, err := config.Load(configPath(cmd))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("subject", "operator", "token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
