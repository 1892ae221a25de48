// Package main provides the API server entry point for the trail importer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trail-importer/internal/api"
	"github.com/trail-importer/internal/app"
	"github.com/trail-importer/internal/config"
	"github.com/trail-importer/internal/job"
	"github.com/trail-importer/internal/logging"
)

func main() {
	fmt.Println("Trail Importer API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(app.LoggerConfig(cfg.Logging))

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Connecting to databases...")
	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize import service")
	}
	defer a.Close()

	logger.WithFields(map[string]interface{}{
		"configured": cfg.EnabledSourceNames(),
		"registered": a.Registry.Types(),
	}).Info("Source adapters registered")

	// Jobs run on a bounded worker queue; queued jobs left by a previous process are resumed
	queue := job.NewImportQueue(a.Service, a.Jobs, cfg.Queue.Workers)
	a.Service.SetRunner(queue)
	if err := queue.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start import queue")
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, a.Service, a.Trails, a.Duplicates, a.Registry, a.HealthChecks()).
		WithRuntimeStats(func() map[string]interface{} {
			return map[string]interface{}{
				"queuedJobs":  queue.Len(),
				"runningJobs": queue.ActiveJobs(),
				"breakers":    a.Breakers.AllStats(),
			}
		})

	// Start server in a goroutine
	go func() {
		logger.WithFields(map[string]interface{}{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		}).Info("Starting API server")
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("Server error")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}

	// Running jobs are cancelled and finalize with what they committed
	if err := queue.Stop(); err != nil {
		logger.WithError(err).Warn("Import queue stop error")
	}

	logger.Info("Server stopped")
}
