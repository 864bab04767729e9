package rowinserter

import (
	"context"
	"errors"
	"fmt"
)

// Pool is a bounded, thread-safe set of database connections shared by all
// requests. Handlers borrow connections with Acquire and never close the
// pool; only process shutdown does.
type Pool interface {
	// Acquire borrows a connection, waiting at most the configured pool
	// timeout. The caller must Release it.
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Stats() PoolStats
	Close() error
}

// Conn is a connection borrowed from a Pool.
type Conn interface {
	// InsertUser inserts one users row in its own transaction.
	InsertUser(ctx context.Context, firstName, lastName string) error
	// Release returns the connection to the pool. It is safe to call once
	// on every exit path.
	Release()
}

// PoolStats is a point-in-time view of pool usage.
type PoolStats struct {
	MaxOpen int
	Open    int
	InUse   int
	Idle    int
}

// checkoutError turns a deadline hit while waiting for a connection into
// ErrPoolTimeout. Cancellation by the caller is returned as is.
func checkoutError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", ErrPoolTimeout, err)
	}
	return err
}

// OpenCloudSQLPool creates the connector dialer for cfg and a pool of the
// configured engine whose physical connections are dialed through it. The
// pool does not connect until first use.
func OpenCloudSQLPool(ctx context.Context, creds Credentials, cfg PoolConfig) (Pool, error) {
	dialer, err := newInstanceDialer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	factory := NewConnectionFactory(dialer, creds)

	var pool Pool
	switch cfg.Engine {
	case EnginePostgres:
		pool, err = openPostgresPool(ctx, creds, cfg, factory)
	default:
		pool, err = openMySQLPool(creds, cfg, factory)
	}
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return pool, nil
}

func closeAll(first error, closers []func() error) error {
	errs := []error{first}
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
