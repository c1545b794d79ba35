package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/atlekbai/entityql/internal/config"
	"github.com/atlekbai/entityql/internal/document"
	"github.com/atlekbai/entityql/internal/handler"
	"github.com/atlekbai/entityql/internal/server"
	"github.com/atlekbai/entityql/internal/service"
	"github.com/atlekbai/entityql/internal/translate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	cache, err := document.LoadModel(cfg.ModelPath)
	if err != nil {
		logger.Error("failed to load model", "path", cfg.ModelPath, "error", err)
		os.Exit(1)
	}
	logger.Info("model loaded", "entities", cache.EntityCount())

	svc := service.NewTranslateService(translate.New(cache), logger)
	srv := server.New(cfg.Addr(), handler.New(svc, cache, logger), logger)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Addr(), "error", err)
		os.Exit(1)
	}

	logger.Info("listening", "addr", cfg.Addr())
	if err := server.Serve(ctx, srv, ln, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
