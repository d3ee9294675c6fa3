package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/porticohq/portico/internal/assembler"
	"github.com/porticohq/portico/internal/auth"
	"github.com/porticohq/portico/internal/config"
	"github.com/porticohq/portico/internal/copilot"
	"github.com/porticohq/portico/internal/llm"
	"github.com/porticohq/portico/internal/quota"
	"github.com/porticohq/portico/internal/scope"
	"github.com/porticohq/portico/internal/server"
	"github.com/porticohq/portico/internal/store"
	"github.com/porticohq/portico/internal/usage"
)

var (
	servePort  int
	serveBurst float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the portal copilot gateway",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().Float64Var(&serveBurst, "burst-limit", 0, "per-subject burst limit in requests/second (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening portal store: %w", err)
	}
	defer db.Close()

	usageStore, err := usage.NewStore(db.SQL(), cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("initializing usage store: %w", err)
	}

	tiers := quota.DefaultTiers()
	if cfg.TiersFile != "" {
		tiers, err = quota.LoadTiers(cfg.TiersFile)
		if err != nil {
			return fmt.Errorf("loading tiers: %w", err)
		}
	}

	ledgerOpts := []quota.Option{}
	if serveBurst > 0 {
		ledgerOpts = append(ledgerOpts, quota.WithBurstLimit(serveBurst, int(serveBurst)+1))
	}
	ledger := quota.NewLedger(db, usageStore, tiers, ledgerOpts...)

	var provider llm.Provider
	if cfg.OpenAIBaseURL != "" {
		provider = llm.NewOpenAIProviderWithBaseURL(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	} else {
		provider = llm.NewOpenAIProvider(cfg.OpenAIKey)
	}

	svc := copilot.NewService(
		ledger,
		scope.NewResolver(db),
		assembler.New(db, assembler.KeywordRanker{}, cfg.TokenBudget),
		llm.NewGenerator(provider),
		usageStore,
	)

	srv := server.NewServer(
		svc,
		auth.NewResolver(cfg.AuthSecret),
		server.WithCopilotEnabled(cfg.CopilotEnabled),
		server.WithVersion(resolvedVersion()),
		server.WithCORSOrigins([]string{"*"}),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("db", cfg.DBPath()).
		Bool("copilot_enabled", cfg.CopilotEnabled).
		Int("token_budget", cfg.TokenBudget).
		Msg("portico_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
