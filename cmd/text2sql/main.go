// Text2SQL agent server: turns natural-language questions into queries
// against managed database connections and streams the run over an
// OpenAI-compatible HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cadwin95/Text2SQLAgent/pkg/agent"
	"github.com/cadwin95/Text2SQLAgent/pkg/api"
	"github.com/cadwin95/Text2SQLAgent/pkg/config"
	"github.com/cadwin95/Text2SQLAgent/pkg/connection"
	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
	"github.com/cadwin95/Text2SQLAgent/pkg/llm"
	"github.com/cadwin95/Text2SQLAgent/pkg/version"
)

func main() {
	ctx := context.Background()

	// 1. Environment and configuration. A missing .env is the normal case
	// in containers, where everything arrives through the environment.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting text2sql server",
		"version", version.Full(),
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model", cfg.LLM.Model)

	// 2. Connection manager over the persisted connection store.
	factory := handler.NewFactory(cfg.Agent.HTTPTimeout)
	store := connection.NewStore(cfg.Storage.ConnectionsFile)
	manager := connection.NewManager(factory, store, logger)
	if err := manager.Load(ctx); err != nil {
		logger.Error("Failed to load connection store", "file", cfg.Storage.ConnectionsFile, "error", err)
		os.Exit(1)
	}
	logger.Info("Connection store loaded",
		"file", cfg.Storage.ConnectionsFile,
		"connections", manager.Status().Total)

	// 3. LLM client.
	llmClient, err := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.CallTimeout,
	})
	if err != nil {
		logger.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	// 4. Agent: tools, orchestrator, bounded run registry.
	tools := agent.NewToolRegistry(factory, cfg.KOSIS.APIKey)
	orchestrator := agent.NewOrchestrator(logger, llmClient, manager, tools, cfg.Agent.MaxPlans)
	runner := agent.NewRunner(logger, orchestrator, cfg.Agent.MaxConcurrentRuns)

	// 5. HTTP server.
	server := api.NewServer(logger, manager, factory, runner, cfg.LLM.Model, cfg.Agent.ExecuteTimeout)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 6. Wait for a shutdown signal or a server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: cancel in-flight runs first so streaming
	// requests can finish, then stop the server, then drop connections.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	runner.CancelAll()
	runner.Wait(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	manager.Shutdown(shutdownCtx)
	logger.Info("Shutdown complete")
}
