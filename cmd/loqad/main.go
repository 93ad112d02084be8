// Command loqad runs the dialog agent daemon: the embedded bus, the
// recognition and response pipeline, and the health and metrics endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-dialog/internal/config"
	"github.com/loqalabs/loqa-dialog/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults plus LOQA_* env when empty)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Telemetry.Level(slog.LevelInfo),
	})).With(slog.String("node_id", cfg.Node.ID))

	if err := run(cfg, logger); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting loqad",
		slog.String("version", version),
		slog.String("runtime", cfg.RuntimeName),
		slog.String("llm_mode", cfg.LLM.Mode),
		slog.String("stt_mode", cfg.STT.Mode))
	return runtime.New(cfg, logger).Start(ctx)
}
