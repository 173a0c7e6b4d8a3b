package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/kirinyoku/tix-gate/docs"
	"github.com/kirinyoku/tix-gate/internal/app"
	"github.com/kirinyoku/tix-gate/internal/config"
)

// @title TixGate API
// @version 1.0
// @description Ticket issuance and door redemption for staff-run events.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
