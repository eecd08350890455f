package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/docmark"
	"github.com/brunobiangulo/docmark/mcpserver"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	withMCP := flag.Bool("mcp", true, "Serve MCP tools over streamable HTTP at /mcp")
	flag.Parse()

	cfg := docmark.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = docmark.LoadConfig(*configPath); err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	applyEnv(&cfg)

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	apiKey := os.Getenv("DOCMARK_API_KEY")
	corsOrigins := os.Getenv("DOCMARK_CORS_ORIGINS")

	engine, err := docmark.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	conv := pathConverter(engine, cfg)
	if _, ok := conv.(uploadsOnly); ok {
		slog.Info("no storage configured, path conversions disabled")
	}

	var mcpSrv *mcp.Server
	if *withMCP {
		mcpSrv = mcpserver.New(conv, version)
	}
	h := newHandler(conv, cfg.MaxFileSize)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newRouter(h, apiKey, corsOrigins, mcpSrv),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 0, // conversions with page description can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "version", version, "formats", len(engine.Formats()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newRouter wires the middleware chain (recovery -> cors -> request id ->
// auth -> logging) in front of the API routes.
func newRouter(h *handler, apiKey, corsOrigins string, mcpSrv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(corsMiddleware(corsOrigins))
	r.Use(requestIDMiddleware)
	r.Use(authMiddleware(apiKey))
	r.Use(logMiddleware)

	r.Post("/convert", h.handleConvert)
	r.Post("/detect", h.handleDetect)
	r.Get("/formats", h.handleFormats)
	r.Get("/health", h.handleHealth)

	if mcpSrv != nil {
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpSrv
		}, nil))
	}
	return r
}

// applyEnv overrides config values from DOCMARK_* environment variables.
func applyEnv(cfg *docmark.Config) {
	if v := os.Getenv("DOCMARK_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("DOCMARK_STORAGE_DB"); v != "" {
		cfg.StorageDB = v
	}
	if v := os.Getenv("DOCMARK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DOCMARK_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("DOCMARK_VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := os.Getenv("DOCMARK_VISION_BASE_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := os.Getenv("DOCMARK_VISION_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("DOCMARK_PDFTOPPM_PATH"); v != "" {
		cfg.PdftoppmPath = v
	}
	if v := os.Getenv("DOCMARK_OCR_LANGUAGES"); v != "" {
		cfg.OCRLanguages = v
	}
	if v, err := strconv.ParseBool(os.Getenv("DOCMARK_OCR")); err == nil {
		cfg.OCR = v
	}
	if v, err := strconv.ParseBool(os.Getenv("DOCMARK_DESCRIBE_IMAGES")); err == nil {
		cfg.DescribeImages = v
	}
	if v, err := strconv.ParseBool(os.Getenv("DOCMARK_MERGE_TABLES")); err == nil {
		cfg.MergeTables = v
	}
	if v, err := strconv.ParseInt(os.Getenv("DOCMARK_MAX_FILE_SIZE"), 10, 64); err == nil && v > 0 {
		cfg.MaxFileSize = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Vision.APIKey == "" {
		switch cfg.Vision.Provider {
		case "openai":
			cfg.Vision.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Vision.APIKey = os.Getenv("GROQ_API_KEY")
		case "openrouter":
			cfg.Vision.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "xai":
			cfg.Vision.APIKey = os.Getenv("XAI_API_KEY")
		case "gemini":
			cfg.Vision.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}
