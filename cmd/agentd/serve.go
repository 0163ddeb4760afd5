package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nexus-agents/agentd/internal/agentloop"
	"github.com/nexus-agents/agentd/internal/config"
	"github.com/nexus-agents/agentd/internal/metrics"
	"github.com/nexus-agents/agentd/internal/mount"
	"github.com/nexus-agents/agentd/internal/orchestrator"
	"github.com/nexus-agents/agentd/internal/provider"
	"github.com/nexus-agents/agentd/internal/reader"
	"github.com/nexus-agents/agentd/internal/store"
	"github.com/nexus-agents/agentd/internal/toolexec"
	"github.com/nexus-agents/agentd/internal/transport"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentd HTTP server",
		Long: `Start the agentd server.

The server will:
1. Load configuration from the specified file (defaults applied if absent)
2. Open the Postgres-backed Event Log Store
3. Construct the Anthropic provider and Agent Loop
4. Serve /chat (Live Transport), /sessions (list), /sessions/{id}/messages
   (replay), /sessions/{id}/events (Resumable Reader), /sessions/{id}/abort,
   and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	st, err := store.NewPostgresStore(&store.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := store.Migrate(st); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	anthropicProvider, err := provider.NewAnthropicProvider(provider.AnthropicConfig{
		APIKey:       cfg.Anthropic.APIKey,
		BaseURL:      cfg.Anthropic.BaseURL,
		DefaultModel: cfg.Anthropic.DefaultModel,
		MaxRetries:   cfg.Anthropic.MaxRetries,
		RetryDelay:   cfg.Anthropic.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("construct anthropic provider: %w", err)
	}

	registry := toolexec.NewRegistry()
	executor := toolexec.New(registry, slog.Default(), metricsReg)

	newLoop := func(sessionID string) *agentloop.Loop {
		return agentloop.New(anthropicProvider, executor, agentloop.Config{
			Model:         cfg.Anthropic.DefaultModel,
			System:        cfg.AgentLoop.System,
			MaxTokens:     cfg.AgentLoop.MaxTokens,
			MaxIterations: cfg.AgentLoop.MaxIterations,
			MaxToolCalls:  cfg.AgentLoop.MaxToolCalls,
			MaxWallTime:   cfg.AgentLoop.MaxWallTime,
		}, slog.Default().With("session_id", sessionID))
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:       st,
		Mounts:      mount.NoopStore{},
		Metrics:     metricsReg,
		Logger:      slog.Default(),
		LoopFactory: newLoop,
	})

	rd := reader.New(st, reader.Config{Metrics: metricsReg})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/chat", transport.NewHandler(orch, st, slog.Default()))
	mux.HandleFunc("GET /sessions", listSessionsHandler(st))
	mux.HandleFunc("GET /sessions/{id}/messages", messagesHandler(st))
	mux.HandleFunc("GET /sessions/{id}/events", eventsHandler(rd))
	mux.HandleFunc("POST /sessions/{id}/abort", abortHandler(orch))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agentd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		slog.Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
