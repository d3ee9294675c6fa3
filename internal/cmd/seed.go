package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/porticohq/portico/internal/config"
	"github.com/porticohq/portico/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the portal store with demo data",
	Long: `Create a demo tenant, subject, and two projects with tasks, messages,
and files. Useful with "portico token --subject demo-client --tenant demo"
for trying the copilot locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "seed")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("opening portal store: %w", err)
		}
		defer db.Close()

		if err := seedDemo(ctx, db); err != nil {
			return err
		}
		log.Info().Str("db", cfg.DBPath()).Msg("demo_data_seeded")
		fmt.Fprintln(cmd.OutOrStdout(), "Seeded demo tenant \"demo\" with subject \"demo-client\".")
		return nil
	},
}

func seedDemo(ctx context.Context, db *store.DB) error {
	now := time.Now().UTC()

	if err := db.CreateTenant(ctx, "demo", "Demo Agency", "standard"); err != nil {
		return fmt.Errorf("seeding tenant: %w", err)
	}
	if err := db.CreateSubject(ctx, "demo-client", "demo", "client@demo.test"); err != nil {
		return fmt.Errorf("seeding subject: %w", err)
	}

	if err := db.CreateProject(ctx, "proj-website", "demo", "Website Redesign",
		"Full redesign of the marketing website, launching next quarter.", true, now.Add(-30*24*time.Hour)); err != nil {
		return fmt.Errorf("seeding project: %w", err)
	}
	if err := db.CreateProject(ctx, "proj-internal", "demo", "Internal Tooling",
		"Back-office tooling, not client facing.", false, now.Add(-60*24*time.Hour)); err != nil {
		return fmt.Errorf("seeding project: %w", err)
	}
	if err := db.UpsertGrant(ctx, "demo-client", store.Grant{
		ProjectID:       "proj-website",
		CanViewTasks:    true,
		CanViewFiles:    true,
		CanSendMessages: true,
	}); err != nil {
		return fmt.Errorf("seeding grant: %w", err)
	}

	tasks := []struct {
		id, title, notes, status string
		visible                  bool
		age                      time.Duration
	}{
		{"task-wireframes", "Homepage wireframes", "Approved by client, moving to visual design.", "done", true, 14 * 24 * time.Hour},
		{"task-copy", "Landing page copy", "Draft shared for review last week.", "in_progress", true, 5 * 24 * time.Hour},
		{"task-billing", "Rework internal billing rate", "Margin discussion, keep off the portal.", "open", false, 3 * 24 * time.Hour},
	}
	for _, tk := range tasks {
		if err := db.CreateTask(ctx, store.TaskDoc{
			ID: tk.id, ProjectID: "proj-website", Title: tk.title,
			Notes: tk.notes, Status: tk.status, CreatedAt: now.Add(-tk.age),
		}, tk.visible); err != nil {
			return fmt.Errorf("seeding task: %w", err)
		}
	}

	if err := db.CreateConversation(ctx, "conv-1", "proj-website", []string{"demo-client", "pm-1"}); err != nil {
		return fmt.Errorf("seeding conversation: %w", err)
	}
	if err := db.CreateMessage(ctx, "msg-1", "conv-1", "pm-1",
		"We are on track for the launch date, copy review is the last open item.", false, now.Add(-2*24*time.Hour)); err != nil {
		return fmt.Errorf("seeding message: %w", err)
	}
	if err := db.CreateMessage(ctx, "msg-2", "conv-1", "pm-1",
		"Internal: client is price sensitive, avoid scope additions.", true, now.Add(-2*24*time.Hour)); err != nil {
		return fmt.Errorf("seeding message: %w", err)
	}

	if err := db.CreateFile(ctx, store.FileDoc{
		ID: "file-1", ProjectID: "proj-website", Name: "homepage-v2.fig",
		Kind: "design", SizeBytes: 4 << 20, CreatedAt: now.Add(-24 * time.Hour),
	}); err != nil {
		return fmt.Errorf("seeding file: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
