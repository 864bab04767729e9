package rowinserter

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of a PoolManager.
type State int

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "READY"
	}
	return "UNINITIALIZED"
}

// PoolOpener builds a pool for the given credentials. OpenCloudSQLPool with
// the process PoolConfig is the production opener.
type PoolOpener func(ctx context.Context, creds Credentials) (Pool, error)

// PoolManagerOptions configures a PoolManager.
type PoolManagerOptions struct {
	SecretID    string
	Secrets     SecretFetcher
	Open        PoolOpener
	InitTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *Metrics
}

type poolRef struct {
	pool Pool
}

// PoolManager owns the process-wide pool. The first GetOrInit builds it;
// concurrent callers wait for that single initialization. A failed
// initialization leaves the manager UNINITIALIZED so the next call retries.
type PoolManager struct {
	opts   PoolManagerOptions
	logger *zap.Logger
	group  singleflight.Group
	ref    atomic.Pointer[poolRef]
}

// NewPoolManager returns an UNINITIALIZED manager.
func NewPoolManager(opts PoolManagerOptions) *PoolManager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = time.Minute
	}
	m := &PoolManager{opts: opts, logger: opts.Logger.Named("pool")}
	opts.Metrics.observePool(m)
	return m
}

// State reports whether the pool has been built.
func (m *PoolManager) State() State {
	if m.ref.Load() != nil {
		return StateReady
	}
	return StateUninitialized
}

// Pool returns the pool, or nil while UNINITIALIZED.
func (m *PoolManager) Pool() Pool {
	if ref := m.ref.Load(); ref != nil {
		return ref.pool
	}
	return nil
}

// GetOrInit returns the pool, building it on first use. Initialization is
// detached from ctx cancellation so one abandoned request cannot fail the
// callers waiting on it; it is bounded by the init timeout instead. Errors
// are *PoolInitError.
func (m *PoolManager) GetOrInit(ctx context.Context) (Pool, error) {
	if ref := m.ref.Load(); ref != nil {
		return ref.pool, nil
	}

	v, err, _ := m.group.Do("pool", func() (any, error) {
		if ref := m.ref.Load(); ref != nil {
			return ref.pool, nil
		}
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.InitTimeout)
		defer cancel()

		pool, err := m.initialize(initCtx)
		if err != nil {
			m.opts.Metrics.poolInit(false)
			m.logger.Error("Pool initialization failed", zap.Error(err))
			return nil, &PoolInitError{Err: err}
		}
		m.ref.Store(&poolRef{pool: pool})
		m.opts.Metrics.poolInit(true)
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Pool), nil
}

func (m *PoolManager) initialize(ctx context.Context) (Pool, error) {
	start := time.Now()
	m.logger.Info("Starting database connection...")

	payload, err := m.opts.Secrets.Fetch(ctx, m.opts.SecretID)
	if err != nil {
		return nil, err
	}
	creds, err := ParseCredentials(payload)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Secrets loaded", zap.String("instance", creds.InstanceConnectionName))

	pool, err := m.opts.Open(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	stats := pool.Stats()
	m.logger.Info("Connection pool ready",
		zap.Int("max_open", stats.MaxOpen),
		zap.Duration("elapsed", time.Since(start)))
	return pool, nil
}

// Close closes the pool if it was built. It is meant for process shutdown.
func (m *PoolManager) Close() error {
	ref := m.ref.Swap(nil)
	if ref == nil {
		return nil
	}
	return ref.pool.Close()
}
