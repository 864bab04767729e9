package rowinserter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"cloud.google.com/go/cloudsqlconn"
	"cloud.google.com/go/cloudsqlconn/errtype"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/googleapi"
)

// instanceDialer is the part of *cloudsqlconn.Dialer the factory needs.
type instanceDialer interface {
	Dial(ctx context.Context, instance string, opts ...cloudsqlconn.DialOption) (net.Conn, error)
	Close() error
}

// newInstanceDialer builds a connector dialer for the IP type and auth mode
// in cfg. With IAM auth the dialer attaches an OAuth2 token to each
// connection, so the driver must not send a password.
func newInstanceDialer(ctx context.Context, cfg PoolConfig) (*cloudsqlconn.Dialer, error) {
	ipOpt := cloudsqlconn.WithPublicIP()
	if cfg.IPType == IPPrivate {
		ipOpt = cloudsqlconn.WithPrivateIP()
	}
	opts := []cloudsqlconn.Option{
		cloudsqlconn.WithLazyRefresh(),
		cloudsqlconn.WithDefaultDialOptions(ipOpt),
	}
	if cfg.AuthMode == AuthIAM {
		opts = append(opts, cloudsqlconn.WithIAMAuthN())
	}
	d, err := cloudsqlconn.NewDialer(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Cloud SQL dialer: %w", err)
	}
	return d, nil
}

// ConnectionFactory opens physical connections to one instance through the
// connector. Pools call Dial only when they need a new connection.
type ConnectionFactory struct {
	dialer   instanceDialer
	instance string
	dials    atomic.Int64
}

// NewConnectionFactory binds dialer to the instance named in creds.
func NewConnectionFactory(dialer instanceDialer, creds Credentials) *ConnectionFactory {
	return &ConnectionFactory{dialer: dialer, instance: creds.InstanceConnectionName}
}

// Dial opens one encrypted tunnel to the instance. The network address
// requested by the driver is ignored: the connector resolves the instance.
func (f *ConnectionFactory) Dial(ctx context.Context) (net.Conn, error) {
	f.dials.Add(1)
	conn, err := f.dialer.Dial(ctx, f.instance)
	if err != nil {
		return nil, classifyConnectError(err)
	}
	return conn, nil
}

// Dials reports how many physical connections were requested.
func (f *ConnectionFactory) Dials() int64 { return f.dials.Load() }

// Close closes the underlying dialer.
func (f *ConnectionFactory) Close() error { return f.dialer.Close() }

// classifyConnectError tags connector and driver failures with
// ErrInstanceNotFound, ErrAuthenticationFailed or ErrConnectionRefused.
// Errors already tagged are returned unchanged.
func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrInstanceNotFound, ErrAuthenticationFailed, ErrConnectionRefused} {
		if errors.Is(err, known) {
			return err
		}
	}

	kind := ErrConnectionRefused

	var cfgErr *errtype.ConfigError
	var apiErr *googleapi.Error
	var myErr *mysql.MySQLError
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &cfgErr):
		kind = ErrInstanceNotFound
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case http.StatusNotFound:
			kind = ErrInstanceNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = ErrAuthenticationFailed
		}
	case errors.As(err, &myErr):
		// ER_ACCESS_DENIED_ERROR, ER_DBACCESS_DENIED_ERROR
		if myErr.Number == 1045 || myErr.Number == 1044 {
			kind = ErrAuthenticationFailed
		}
	case errors.As(err, &pgErr):
		if pgErr.Code == "28P01" || pgErr.Code == "28000" {
			kind = ErrAuthenticationFailed
		}
	}
	return fmt.Errorf("%w: %w", kind, err)
}

var mysqlDialSeq atomic.Int64

// registerMySQLDial returns a go-sql-driver network name bound to f. Each
// factory registers its own name so a pool rebuilt after a failed
// initialization never dials through a stale dialer.
func registerMySQLDial(f *ConnectionFactory) string {
	network := fmt.Sprintf("cloudsqlconn-%d", mysqlDialSeq.Add(1))
	mysql.RegisterDialContext(network, func(ctx context.Context, _ string) (net.Conn, error) {
		return f.Dial(ctx)
	})
	return network
}

// mysqlConfig builds the driver configuration. In IAM mode the password
// from the secret is not sent.
func mysqlConfig(creds Credentials, cfg PoolConfig, network string) *mysql.Config {
	c := mysql.NewConfig()
	c.Net = network
	c.Addr = creds.InstanceConnectionName
	c.DBName = creds.DBName
	c.ParseTime = true
	c.InterpolateParams = false
	c.MultiStatements = false
	if cfg.AuthMode == AuthIAM {
		c.User = cfg.IAMUser
	} else {
		c.User = creds.DBUser
		c.Passwd = creds.DBPassword
	}
	return c
}

// pgxConfig builds the pgxpool configuration with the pool limits and the
// connector as dial function.
func pgxConfig(creds Credentials, cfg PoolConfig, f *ConnectionFactory) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig("sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	pc.ConnConfig.Database = creds.DBName
	if cfg.AuthMode == AuthIAM {
		pc.ConnConfig.User = cfg.IAMUser
		pc.ConnConfig.Password = ""
	} else {
		pc.ConnConfig.User = creds.DBUser
		pc.ConnConfig.Password = creds.DBPassword
	}
	pc.ConnConfig.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return f.Dial(ctx)
	}
	pc.ConnConfig.LookupFunc = func(_ context.Context, host string) ([]string, error) {
		return []string{host}, nil
	}
	pc.ConnConfig.Fallbacks = nil

	pc.MaxConns = int32(cfg.MaxOpen())
	pc.MinConns = 0
	pc.MaxConnLifetime = cfg.ConnectionRecycle
	pc.MaxConnLifetimeJitter = 0
	return pc, nil
}
