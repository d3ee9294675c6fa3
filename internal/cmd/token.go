package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/porticohq/portico/internal/auth"
	"github.com/porticohq/portico/internal/config"
)

var (
	tokenSubject string
	tokenTenant  string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development portal credential",
	Long: `Mint an HS256 credential signed with the configured auth secret.

Intended for local development and testing; production credentials come from
the portal's identity provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "token")
		defer span.End()

		if tokenSubject == "" || tokenTenant == "" {
			return fmt.Errorf("--subject and --tenant are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg.WarnIfDefaultKeys()

		credential, err := auth.NewToken([]byte(cfg.AuthSecret), tokenSubject, tokenTenant, tokenRole, tokenTTL)
		if err != nil {
			return fmt.Errorf("minting credential: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), credential)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "subject id (required)")
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant id (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "client", "role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "credential lifetime")
	rootCmd.AddCommand(tokenCmd)
}
