package rowinserter

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// App wires the components of one process.
type App struct {
	Config  Config
	Logger  *zap.Logger
	Metrics *Metrics
	Manager *PoolManager
	Handler *Handler

	secrets SecretFetcher
}

// NewApp builds the pool manager and handler for cfg. No network call is
// made here: the secret client and the pool are both built by the first
// pool initialization, and a failure there is retried by the next request.
func NewApp(cfg Config, logger *zap.Logger) *App {
	secrets := NewLazySecretFetcher(func(ctx context.Context) (SecretFetcher, error) {
		return NewSecretFetcher(ctx, cfg, logger)
	})
	return newApp(cfg, logger, secrets, func(ctx context.Context, creds Credentials) (Pool, error) {
		return OpenCloudSQLPool(ctx, creds, cfg.Pool)
	})
}

func newApp(cfg Config, logger *zap.Logger, secrets SecretFetcher, open PoolOpener) *App {
	metrics := NewMetrics()
	manager := NewPoolManager(PoolManagerOptions{
		SecretID:    cfg.SecretName,
		Secrets:     secrets,
		Open:        open,
		InitTimeout: cfg.InitTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})
	handler := NewHandler(HandlerOptions{
		Manager:           manager,
		Inserter:          NewInserter(logger, metrics),
		Names:             FakeNames{},
		FailOnInsertError: cfg.FailOnInsertError,
		Logger:            logger,
	})
	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Manager: manager,
		Handler: handler,
		secrets: secrets,
	}
}

// Close closes the pool and the secret client.
func (a *App) Close() error {
	err := a.Manager.Close()
	if c, ok := a.secrets.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
