package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/porticohq/portico/internal/config"
	"github.com/porticohq/portico/internal/store"
	"github.com/porticohq/portico/internal/usage"
)

var (
	usageSubject string
	usageTenant  string
	usageSince   string
	usageLimit   int
	usageJSON    bool
	usageVerify  bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded copilot usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "usage")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("opening portal store: %w", err)
		}
		defer db.Close()

		usageStore, err := usage.NewStore(db.SQL(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("opening usage store: %w", err)
		}

		from := time.Time{}
		if usageSince != "" {
			d, err := time.ParseDuration(usageSince)
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			from = time.Now().UTC().Add(-d)
		}

		records, err := usageStore.List(ctx, usageSubject, usageTenant, from, time.Time{}, usageLimit)
		if err != nil {
			return fmt.Errorf("listing usage: %w", err)
		}

		out := cmd.OutOrStdout()

		if usageJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		var requests, tokens, failures int
		for _, r := range records {
			requests++
			tokens += r.Tokens
			if !r.Success {
				failures++
			}
		}
		fmt.Fprintf(out, "Usage records: %d (tokens: %d, failures: %d)\n\n", requests, tokens, failures)

		for _, r := range records {
			status := "ok"
			if !r.Success {
				status = r.ErrorKind
			}
			fmt.Fprintf(out, "%s  %-20s %-12s %6d tok  %s\n",
				r.Timestamp.Format(time.RFC3339), r.SubjectID, status, r.Tokens, r.Model)
			if usageVerify {
				valid, err := usageStore.Verify(ctx, r.ID)
				if err != nil {
					return fmt.Errorf("verifying record %s: %w", r.ID, err)
				}
				if !valid {
					fmt.Fprintf(out, "  !! signature mismatch: %s\n", r.ID)
				}
			}
		}
		return nil
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageSubject, "subject", "", "filter by subject id")
	usageCmd.Flags().StringVar(&usageTenant, "tenant", "", "filter by tenant id")
	usageCmd.Flags().StringVar(&usageSince, "since", "24h", "look-back window (Go duration, empty for all)")
	usageCmd.Flags().IntVar(&usageLimit, "limit", 50, "max records to show")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "output raw records as JSON")
	usageCmd.Flags().BoolVar(&usageVerify, "verify", false, "verify record signatures")
	rootCmd.AddCommand(usageCmd)
}
