package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/infrastructure/config"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/server"
)

func main() {
	port := flag.String("port", "", "Listen port (overrides PORT)")
	scope := flag.String("scope", "", "Scope ID of this canvas (overrides SCOPE_ID)")
	peers := flag.String("peers", "", "Comma-separated scope bridge URLs to dial")
	dev := flag.Bool("dev", false, "Development mode (colored debug logs)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *scope != "" {
		cfg.Server.ScopeID = *scope
	}
	if *peers != "" {
		cfg.Server.Peers = strings.Split(*peers, ",")
	}
	if *dev {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(cfg.Server.Host + ":" + cfg.Server.Port); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("Server error", zap.Error(err))
	}
}
