package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/medical-chronology/internal/adapters/mcp"
	"github.com/kirillkom/medical-chronology/internal/bootstrap"
	"github.com/kirillkom/medical-chronology/internal/config"
	"github.com/kirillkom/medical-chronology/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// stdout carries the MCP stream, logs go to stderr.
	logger := logging.New(os.Stderr, "chronology-mcp", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Service: "mcp"})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := mcpadapter.NewTools(app.Narratives, app.Engine).NewServer("medical-chronology", cfg.ServiceVersion)
	if err := server.ServeStdio(srv); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		app.Close()
		os.Exit(1)
	}
}
