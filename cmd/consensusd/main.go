// Command consensusd is the multi-provider LLM consensus server.
//
// It reads configuration from environment variables (with optional .env
// support), loads the model catalog from models.yaml and serves the
// consensus HTTP API on LISTEN_ADDR.
//
// Quick-start (in-process cache and analytics, no external deps):
//
//	BACKEND_API_KEYS=dev-token OPENAI_API_KEY=sk-... ANTHROPIC_API_KEY=sk-... ./consensusd
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 startup or runtime
// failure.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crossmindhq/consensus/internal/app"
	"github.com/crossmindhq/consensus/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Build the structured logger. All subsystems share this instance.
	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(2)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("service stopped", slog.String("error", err.Error()))
		os.Exit(2)
	}
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug, // include file:line only in debug mode
	}))
}
