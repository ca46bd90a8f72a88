package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/comigor/shelli-go/internal/config"
	"github.com/comigor/shelli-go/internal/conversation"
	"github.com/comigor/shelli-go/internal/llm"
	"github.com/comigor/shelli-go/internal/logger"
	"github.com/comigor/shelli-go/internal/pipeline"
	"github.com/comigor/shelli-go/internal/server"
	"github.com/comigor/shelli-go/internal/telemetry"
)

func main() {

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)

	// Set up OpenTelemetry providers
	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	exporter, err := telemetry.NewOTelExporter(
		otel.Tracer("shelli"),
		otel.Meter("shelli"),
	)
	if err != nil {
		slog.Error("failed to create exporter", "error", err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Close(ctx); err != nil {
			slog.Error("exporter close", "error", err)
		}
	}()

	// Conversation store, seeded with the configured system prompt
	store := conversation.NewStore(cfg.LLM.SystemPrompt, cfg.History.DBPath)
	store.Open(server.DefaultSession)

	// Initialize LLM client and pipeline
	llmClient := llm.NewClient(cfg.LLM)
	pipe := pipeline.New(store, llmClient, exporter, cfg.LLM)

	// Start server
	srv := server.New(pipe)
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting server", "address", serverAddr)
	if err := http.ListenAndServe(serverAddr, srv.Routes()); err != nil {
		slog.Error("failed to start server", "error", err)
	}
}
