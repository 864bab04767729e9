package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cloudsql-demo/rowinserter"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code. Deferred cleanup runs before main exits.
func run(args []string) int {
	cfg, err := rowinserter.LoadConfig()
	if err != nil {
		log.Printf("FATAL: invalid configuration: %v", err)
		return 1
	}
	logger, err := rowinserter.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Printf("FATAL: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SecretName == "" {
		logger.Warn("SECRET_NAME is not set; requests will fail until it resolves")
	}

	app := rowinserter.NewApp(cfg, logger)
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}()

	// --- CLI mode: insert one row and exit ---
	// Usage: server insert
	if len(args) >= 1 {
		if args[0] != "insert" {
			logger.Error("Unknown command", zap.String("command", args[0]), zap.String("usage", "server [insert]"))
			return 2
		}
		if err := runInsertOnce(ctx, app); err != nil {
			logger.Error("[run] insert failed", zap.Error(err))
			return 1
		}
		logger.Info("[run] insert completed successfully")
		return 0
	}

	logger.Info("=== Cloud SQL row inserter ===",
		zap.String("engine", string(cfg.Pool.Engine)),
		zap.String("secret_backend", cfg.SecretBackend),
		zap.Stringer("ip_type", cfg.Pool.IPType),
		zap.Stringer("auth_mode", cfg.Pool.AuthMode),
		zap.Int("max_connections", cfg.Pool.MaxConnections),
		zap.Int("max_overflow", cfg.Pool.MaxOverflow),
		zap.Duration("pool_timeout", cfg.Pool.PoolTimeout),
		zap.Duration("pool_recycle", cfg.Pool.ConnectionRecycle),
		zap.Int("port", cfg.Port))

	if cfg.EagerInit {
		if _, err := app.Manager.GetOrInit(ctx); err != nil {
			logger.Warn("Eager pool initialization failed; retrying on first request", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           rowinserter.NewRouter(app.Handler, app.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.Stringer("signal", sig))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", zap.Error(err))
			return 1
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
	return 0
}

func runInsertOnce(ctx context.Context, app *rowinserter.App) error {
	pool, err := app.Manager.GetOrInit(ctx)
	if err != nil {
		return err
	}
	names := rowinserter.FakeNames{}
	return rowinserter.NewInserter(app.Logger, app.Metrics).InsertRecord(ctx, pool, names.FirstName(), names.LastName())
}
