/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the field report server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store
  3. Create lifecycle, remote client and sync scheduler
  4. Configure HTTP router
  5. Start scheduler and server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sync scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run against the remote sheet
  SCRIPT_URL=https://script.example/exec ./server -db="./data/reports.db"

  # Offline mock backend, in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldops/report-engine/api"
	"github.com/fieldops/report-engine/config"
	"github.com/fieldops/report-engine/fieldreport"
	"github.com/fieldops/report-engine/remote"
	"github.com/fieldops/report-engine/review"
	"github.com/fieldops/report-engine/store/sqlite"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	logger := config.NewLogger(cfg.LogLevel, os.Stdout)

	if err := fieldreport.ValidatePrefix(cfg.DefaultPrefix); err != nil {
		logger.Fatalf("Invalid DEFAULT_PREFIX: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("server stopped")
}

// run serves until a signal or a listener failure. Deferred cleanup runs
// before main exits.
func run(cfg config.Config, logger *logrus.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	lifecycle := fieldreport.NewLifecycle(store,
		fieldreport.WithLogger(logger),
		fieldreport.WithDefaultPrefix(cfg.DefaultPrefix),
	)
	client := remote.New(cfg.ScriptURL, cfg.RemoteTimeout, logger)
	if client.Offline() {
		logger.Warn("SCRIPT_URL not set, running with the offline mock backend")
	}

	reviewer := review.New(review.Config{
		APIKey:  cfg.ReviewAPIKey,
		Model:   cfg.ReviewModel,
		BaseURL: cfg.ReviewBaseURL,
		Timeout: cfg.RemoteTimeout,
	}, logger)
	if reviewer.Offline() {
		logger.Info("OPENAI_API_KEY not set, report review runs offline")
	}

	scheduler := api.NewSyncScheduler(lifecycle, client, store, logger)
	scheduler.Interval = cfg.SyncInterval

	handler := api.NewHandler(lifecycle, client, reviewer, scheduler, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RemoteTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port": cfg.Port,
			"db":   cfg.DBPath,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}
