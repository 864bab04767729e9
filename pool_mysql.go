package rowinserter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const insertUserMySQL = "INSERT INTO users (name, lastname) VALUES (?, ?)"

// sqlPool is a MySQL pool on database/sql. MaxConnections connections are
// kept idle; overflow connections are closed when they are returned.
type sqlPool struct {
	db      *sql.DB
	cfg     PoolConfig
	closers []func() error
}

func openMySQLPool(creds Credentials, cfg PoolConfig, factory *ConnectionFactory) (*sqlPool, error) {
	network := registerMySQLDial(factory)
	connector, err := mysql.NewConnector(mysqlConfig(creds, cfg, network))
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	return newSQLPool(sql.OpenDB(connector), cfg, factory.Close), nil
}

func newSQLPool(db *sql.DB, cfg PoolConfig, closers ...func() error) *sqlPool {
	db.SetMaxOpenConns(cfg.MaxOpen())
	db.SetMaxIdleConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnectionRecycle)
	return &sqlPool{db: db, cfg: cfg, closers: closers}
}

func (p *sqlPool) Acquire(ctx context.Context) (Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.cfg.PoolTimeout)
	defer cancel()

	conn, err := p.db.Conn(actx)
	if err != nil {
		return nil, checkoutError(ctx, err)
	}
	return &sqlConn{conn: conn}, nil
}

func (p *sqlPool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return classifyConnectError(err)
	}
	return nil
}

func (p *sqlPool) Stats() PoolStats {
	s := p.db.Stats()
	return PoolStats{
		MaxOpen: s.MaxOpenConnections,
		Open:    s.OpenConnections,
		InUse:   s.InUse,
		Idle:    s.Idle,
	}
}

func (p *sqlPool) Close() error {
	return closeAll(p.db.Close(), p.closers)
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) InsertUser(ctx context.Context, firstName, lastName string) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertUserMySQL, firstName, lastName); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (c *sqlConn) Release() {
	_ = c.conn.Close()
}
