package rowinserter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const insertUserPostgres = "INSERT INTO users (name, lastname) VALUES ($1, $2)"

type pgPool struct {
	pool    *pgxpool.Pool
	cfg     PoolConfig
	closers []func() error
}

func openPostgresPool(ctx context.Context, creds Credentials, cfg PoolConfig, factory *ConnectionFactory) (*pgPool, error) {
	config, err := pgxConfig(creds, cfg, factory)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &pgPool{pool: pool, cfg: cfg, closers: []func() error{factory.Close}}, nil
}

func (p *pgPool) Acquire(ctx context.Context) (Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.cfg.PoolTimeout)
	defer cancel()

	conn, err := p.pool.Acquire(actx)
	if err != nil {
		return nil, checkoutError(ctx, err)
	}
	return &pgConn{conn: conn}, nil
}

func (p *pgPool) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return classifyConnectError(err)
	}
	return nil
}

func (p *pgPool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		MaxOpen: int(s.MaxConns()),
		Open:    int(s.TotalConns()),
		InUse:   int(s.AcquiredConns()),
		Idle:    int(s.IdleConns()),
	}
}

func (p *pgPool) Close() error {
	p.pool.Close()
	return closeAll(nil, p.closers)
}

type pgConn struct {
	conn *pgxpool.Conn
}

func (c *pgConn) InsertUser(ctx context.Context, firstName, lastName string) error {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(ctx, insertUserPostgres, firstName, lastName); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (c *pgConn) Release() {
	c.conn.Release()
}
