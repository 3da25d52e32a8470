/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fuel procurement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, config.toml, PROCURE_* env vars)
  2. Build the zap logger
  3. Open the ledger (sqlite or memory driver)
  4. Create engine and API handler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Extra directory to search for config.toml
  -port    HTTP server port, overrides app.port

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Close the ledger
  4. Exit

EXAMPLES:
  # Run with file ledger
  PROCURE_LEDGER_PATH=./data/procurement.db ./server

  # Run with in-memory ledger
  PROCURE_LEDGER_DRIVER=memory ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Ledger implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/warp/fuel-procurement/api"
	"github.com/warp/fuel-procurement/config"
	"github.com/warp/fuel-procurement/logger"
	"github.com/warp/fuel-procurement/procurement"
	"github.com/warp/fuel-procurement/procurement/store"
	"github.com/warp/fuel-procurement/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config", "", "Extra directory to search for config.toml")
	port := flag.String("port", "", "HTTP server port (overrides app.port)")
	flag.Parse()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != "" {
		cfg.App.Port = *port
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync(log)

	ledger, closer, err := openLedger(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer closer.Close()

	rates, _ := cfg.Tax.Rates()
	tolerance, _ := cfg.Payment.Tolerance()

	eng := procurement.NewEngine(ledger, logger.Named(log, "engine"))
	eng.Timeout = cfg.Ledger.Timeout
	eng.PageSize = cfg.Ledger.PageSize
	eng.MaxOverpaymentTolerance = tolerance

	var resetter api.Resetter
	if cfg.App.Env != "production" {
		resetter = ledger
	}
	handler := api.NewHandler(eng, rates, resetter)

	router := api.NewRouter(handler, api.Options{
		Logger:         logger.Named(log, "http"),
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("app", cfg.App.Name),
			zap.String("env", cfg.App.Env),
			zap.String("addr", server.Addr),
			zap.String("ledger", cfg.Ledger.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

type ledgerStore interface {
	procurement.Ledger
	api.Resetter
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openLedger(cfg config.LedgerConfig) (ledgerStore, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nopCloser{}, nil
	default:
		if dir := filepath.Dir(cfg.Path); cfg.Path != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}
