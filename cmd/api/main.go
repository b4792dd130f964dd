// main.go - HTTP API entry point

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/app"
	"github.com/stakbuild/docmatch/internal/common"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger, err := common.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Memory: os.Getenv("DOCMATCH_MEMORY_STORE") == "true"})
	if err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	if err := a.Serve(ctx); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}
}
