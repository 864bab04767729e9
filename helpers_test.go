package rowinserter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const testSecret = `{"connection_name":"proj:region:inst","db_user":"u","db_password":"p","db_name":"appdb"}`

// fakeFetcher serves fetch(call) where call counts from 1.
type fakeFetcher struct {
	calls atomic.Int64
	delay time.Duration
	fetch func(call int64) ([]byte, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, secretID string) ([]byte, error) {
	call := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fetch == nil {
		return []byte(testSecret), nil
	}
	return f.fetch(call)
}

type fakePool struct {
	mu          sync.Mutex
	rows        [][2]string
	inUse       int
	acquireErr  error
	insertErr   error
	pingErr     error
	panicInsert bool
	closed      bool
	maxOpen     int
}

func (p *fakePool) Acquire(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.inUse++
	return &fakeConn{pool: p}, nil
}

func (p *fakePool) Ping(ctx context.Context) error { return p.pingErr }

func (p *fakePool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{MaxOpen: p.maxOpen, Open: p.inUse, InUse: p.inUse}
}

func (p *fakePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

func (p *fakePool) Rows() [][2]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]string(nil), p.rows...)
}

type fakeConn struct {
	pool     *fakePool
	released bool
}

func (c *fakeConn) InsertUser(ctx context.Context, firstName, lastName string) error {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if c.pool.panicInsert {
		panic("driver exploded")
	}
	if c.pool.insertErr != nil {
		return c.pool.insertErr
	}
	c.pool.rows = append(c.pool.rows, [2]string{firstName, lastName})
	return nil
}

func (c *fakeConn) Release() {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if !c.released {
		c.released = true
		c.pool.inUse--
	}
}

type fixedNames struct{ first, last string }

func (n fixedNames) FirstName() string { return n.first }
func (n fixedNames) LastName() string  { return n.last }

func testPoolConfig() PoolConfig {
	return PoolConfig{
		Engine:            EngineMySQL,
		MaxConnections:    5,
		PoolTimeout:       30 * time.Second,
		ConnectionRecycle: 1800 * time.Second,
	}
}
