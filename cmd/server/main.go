/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the HPoints engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and TOML config
  2. Initialize SQLite store
  3. Wire ledger, workout and rewards services
  4. Configure HTTP router, start the expiration sweeper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to TOML config file (default: hpoints.toml)
  -listen  Listen address, overrides config (e.g. ":8080")
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiration sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/hpoints.db"

  # Run with custom config
  ./server -config=/etc/hpoints/hpoints.toml

SEE ALSO:
  - config/config.go: TOML schema and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pacecrew/hpoints-engine/api"
	"github.com/pacecrew/hpoints-engine/config"
	"github.com/pacecrew/hpoints-engine/ledger"
	"github.com/pacecrew/hpoints-engine/logging"
	"github.com/pacecrew/hpoints-engine/rewards"
	"github.com/pacecrew/hpoints-engine/store/sqlite"
	"github.com/pacecrew/hpoints-engine/workout"
)

func main() {
	// Flags
	configPath := flag.String("config", "hpoints.toml", "path to TOML config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("info").Error("config error", "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}

	log := logging.Setup(cfg.Log.Level)

	// Initialize store
	store, err := sqlite.New(cfg.Database)
	if err != nil {
		log.Error("failed to initialize database", "path", cfg.Database, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Wire domain services
	led := ledger.New(store)
	agg := ledger.NewAggregator(led, store, cfg.Lookahead())

	perKm := make(map[workout.Zone]int64, len(cfg.Points.PerKm))
	for zone, rate := range cfg.Points.PerKm {
		perKm[workout.Zone(zone)] = rate
	}
	policy := workout.TablePolicy(perKm, cfg.Points.CompletionBonus)
	workouts := workout.NewService(store, policy, cfg.ExpiryWindow())

	rewardsSvc := rewards.NewService(store, agg)

	handler := api.NewHandler(led, agg, workouts, rewardsSvc, store, log)
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	// Background expiration sweep
	sweeper := api.NewSweeper(agg, store, cfg.SweepInterval(), log)
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "addr", cfg.Listen, "db", cfg.Database)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}

	log.Info("server stopped")
}
