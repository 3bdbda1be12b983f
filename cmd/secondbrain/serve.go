package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"secondbrain/internal/api"
	"secondbrain/internal/composer"
	"secondbrain/internal/config"
	"secondbrain/internal/entities"
	"secondbrain/internal/extract"
	"secondbrain/internal/ingest"
	"secondbrain/internal/openai"
	"secondbrain/internal/retrieval"
	"secondbrain/internal/storage"
	"secondbrain/internal/vectorindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the secondbrain server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "secondbrain version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	uploadDir := filepath.Join(cfg.Storage.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}

	// OpenAI-compatible client used for embeddings, chat, transcription and
	// captioning.
	ai := openai.NewWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	ai.EmbedModel = cfg.OpenAI.EmbedModel
	ai.ChatModel = cfg.OpenAI.ChatModel
	ai.WhisperModel = cfg.OpenAI.WhisperModel
	ai.CaptionModel = cfg.OpenAI.CaptionModel

	// Vector index: embedded SQLite by default, HTTP sidecar when configured.
	var index vectorindex.Index
	if cfg.Vector.URL != "" {
		index = vectorindex.NewHTTP(cfg.Vector.URL)
		slog.Info("using remote vector index", "url", cfg.Vector.URL)
	} else {
		index = vectorindex.NewLocal(store.DB())
		slog.Info("using embedded vector index")
	}

	// Build ingestion pipeline and start the queue worker.
	extractor := extract.New(ai, ai, extract.NewScraper(nil))
	entityExtractor := entities.NewExtractor(ai)
	pipe := ingest.NewPipeline(store, extractor, ai, index, entityExtractor)
	worker := ingest.NewWorker(store, pipe, 500*time.Millisecond)
	go worker.Run(ctx)

	// Query path.
	retriever := retrieval.NewRetriever(ai, index, store)
	comp := composer.New(ai, store)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Retriever: retriever,
		Composer:  comp,
		Index:     index,
		UploadDir: uploadDir,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on its own port so agents can connect over HTTP.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Retriever: retriever,
		UploadDir: uploadDir,
	})
	mcpHTTP := server.NewStreamableHTTPServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpHTTP.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP server error", "error", err)
		}
	}()

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "secondbrain listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
