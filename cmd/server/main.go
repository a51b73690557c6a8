/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the medication tracker server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, optional YAML, environment)
  2. Apply command-line flag overrides
  3. Build the zap logger
  4. Initialize SQLite store (migrations run on open)
  5. Create services and API handler
  6. Optionally seed demo data
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port (overrides server.port / PORT)
  -db      SQLite database path (overrides database.path)
           Use ":memory:" for in-memory database
  -seed    Load demo patients, medications and dose history

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Development with a throwaway database and demo data
  MEDTRACK_LOG_DEVELOPMENT=true ./server -db=":memory:" -seed

  # Production
  JWT_SECRET=... ./server -config=/etc/medtrack.yaml

ENVIRONMENT:
  See config/config.go. PORT and JWT_SECRET are honored as-is; everything
  else uses the MEDTRACK_ prefix (MEDTRACK_CLOCK_TIMEZONE, ...).

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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

	"go.uber.org/zap"

	"github.com/warp/medication-tracker/adherence"
	"github.com/warp/medication-tracker/api"
	"github.com/warp/medication-tracker/auth"
	"github.com/warp/medication-tracker/config"
	"github.com/warp/medication-tracker/seed"
	"github.com/warp/medication-tracker/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "medtrack: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	withSeed := flag.Bool("seed", false, "Load demo data on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Auth.JWTSecret == config.DevSecret {
		logger.Warn("no JWT secret configured, using the development secret")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	days := adherence.NewClock(loc)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Initialize handler
	authSvc := auth.NewService(store, cfg.Auth.JWTSecret, auth.Options{
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	handler := api.NewHandler(store, days, authSvc, logger)

	if *withSeed {
		_, err := seed.Load(context.Background(), seed.Deps{
			Store:      store,
			Auth:       authSvc,
			Reconciler: handler.Reconciler,
			Days:       days,
			Logger:     logger,
		}, seed.DefaultOptions())
		if err != nil {
			return err
		}
	}

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		LoginRate:      cfg.Auth.LoginRate,
		LoginBurst:     cfg.Auth.LoginBurst,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
