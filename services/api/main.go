package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/logging"
	"github.com/gridwatch/pvlive-consumer/services/api/config"
	httpserver "github.com/gridwatch/pvlive-consumer/services/api/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, "pvlive-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection error", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	srv := httpserver.New(cfg, database, logger)
	logger.Info("REST API listening", "addr", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
