package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/api"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/chat"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/dispatch"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/enrichment"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/gateway"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/hermes"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/importer"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/metrics"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/prompt"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/ratelimit"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.Info("parrit starting", "port", cfg.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("database connected")

	// Gateway
	if cfg.GatewayAPIKey == "" {
		return errors.New("LLM_GATEWAY_API_KEY is required")
	}
	llm := gateway.NewClient(cfg.GatewayAPIKey, cfg.GatewayModel, cfg.GatewayURL)
	slog.Info("gateway client ready", "model", cfg.GatewayModel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// NATS is optional; without it only webhooks carry events.
	var publisher dispatch.Publisher
	if cfg.NatsURL != "" {
		bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer bus.Close()
		publisher = bus
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, events go to webhooks only")
	}

	dispatcher := dispatch.New(db, publisher, dispatch.Options{
		Timeout:   cfg.WebhookTimeout,
		Workers:   cfg.WebhookWorkers,
		QueueSize: cfg.WebhookQueueSize,
	}, slog.Default(), m)
	dispatcher.Start(context.WithoutCancel(ctx))
	defer dispatcher.Close()

	tpl := prompt.Default()
	svc := chat.NewService(
		ratelimit.New(db, cfg.RateLimitWindow, cfg.RateLimitMax, slog.Default(), m),
		db,
		db,
		enrichment.NewEngine(tpl, enrichment.DefaultKeywords(), db, slog.Default(), m),
		llm,
		dispatcher,
		chat.DefaultPolicy(cfg.QualifyThreshold),
		slog.Default(),
	)

	srv := api.NewServer(api.Options{
		Port:             cfg.Port,
		APIToken:         cfg.APIToken,
		AllowedOrigins:   cfg.AllowedOrigins,
		MaxMessageLength: cfg.MaxMessageLength,
		PromptVersion:    tpl.Version,
		Gatherer:         reg,
	}, svc, importer.New(db, slog.Default()), m, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("parrit ready", "port", cfg.Port, "prompt_version", tpl.Version)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	slog.Info("parrit stopped")
	return nil
}
