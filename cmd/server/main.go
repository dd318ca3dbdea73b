package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crewdeck-go/internal/server"
	"github.com/crewdeck-go/pkg/config"
	"github.com/crewdeck-go/pkg/logger"
)

func main() {
	cfg, err := config.Load("crewdeck")
	if err != nil {
		logger.NewDefault().Fatal("failed to load config", "error", err)
	}

	log := logger.New(cfg.Logger)
	log.Info("starting crewdeck streaming service", "port", cfg.Server.Port)

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize server", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("server failed", "error", err)
		}
		return
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
