/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the franchise billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config.yaml, .env, BILLING_* env)
  2. Apply command-line flag overrides
  3. Initialize logger and SQLite store
  4. Wire billing service, rate cache, sweeper and optional Redis lock
  5. Start the billing scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides server.port)
  -db      SQLite database path (overrides database.path)
           Use ":memory:" for in-memory database
  -config  Directory holding config.yaml

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight sweep finishes first)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Distributed sweep lock
  BILLING_REDIS_ADDRESS=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - api/scheduler.go: Monthly sweep scheduler
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/franchise-billing/api"
	"github.com/warp/franchise-billing/billing"
	"github.com/warp/franchise-billing/config"
	"github.com/warp/franchise-billing/lock"
	"github.com/warp/franchise-billing/logger"
	"github.com/warp/franchise-billing/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	configDir := flag.String("config", "", "Directory holding config.yaml")
	flag.Parse()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, err := config.NewConfig(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logr, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logr.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logr.Fatalw("failed to initialize database", "path", cfg.Database.Path, "error", err)
	}
	defer store.Close()

	policy := cfg.Billing.Policy()

	svc := billing.NewService(store)
	svc.Log = logr
	svc.Events = billing.MultiSink{billing.LogSink{Log: logr.Named("events")}}

	configs := billing.NewCachedConfigProvider(store, cfg.Billing.ConfigCacheTTL)
	sweeper := billing.NewSweeper(svc, configs, store)
	sweeper.Runs = store
	sweeper.Policy = policy
	sweeper.Workers = cfg.Billing.Workers
	if cfg.Redis.LockTTL > 0 {
		sweeper.LockTTL = cfg.Redis.LockTTL
	}
	if cfg.Redis.Address != "" {
		rdb, err := lock.Connect(context.Background(), cfg.Redis.Address)
		if err != nil {
			logr.Fatalw("failed to connect redis", "address", cfg.Redis.Address, "error", err)
		}
		defer rdb.Close()
		sweeper.Locker = lock.NewRedis(rdb)
		logr.Infow("distributed sweep lock enabled", "address", cfg.Redis.Address)
	}

	// Initialize handler
	handler := api.NewHandler(store, svc, sweeper)
	handler.Configs = configs
	handler.Policy = policy
	handler.Log = logr

	scheduler := api.NewBillingScheduler(svc, sweeper, store, logr)
	scheduler.CheckInterval = cfg.Billing.SchedulerInterval
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logr.Infow("server starting", "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port), "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatalw("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logr.Errorw("server forced to shutdown", "error", err)
	}

	logr.Info("server stopped")
}
