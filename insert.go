package rowinserter

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Inserter writes one users row per call.
type Inserter struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewInserter returns an Inserter logging under "insert".
func NewInserter(logger *zap.Logger, metrics *Metrics) *Inserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inserter{logger: logger.Named("insert"), metrics: metrics}
}

// InsertRecord checks out a connection, inserts (firstName, lastName) and
// commits. The connection goes back to the pool on every path, panics
// included. A failure is logged and returned as *InsertError; it is never
// fatal to the process.
func (s *Inserter) InsertRecord(ctx context.Context, pool Pool, firstName, lastName string) error {
	start := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return s.fail(err, start)
	}
	defer conn.Release()

	if err := conn.InsertUser(ctx, firstName, lastName); err != nil {
		return s.fail(err, start)
	}

	s.metrics.insertResult(nil, time.Since(start))
	s.logger.Info("Inserted a row successfully in the database.", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Inserter) fail(err error, start time.Time) *InsertError {
	insErr := &InsertError{Kind: classifyInsertError(err), Err: err}
	s.metrics.insertResult(insErr, time.Since(start))
	s.logger.Error("Insert failed",
		zap.Stringer("kind", insErr.Kind),
		zap.Bool("retryable", insErr.Retryable()),
		zap.Error(err))
	return insErr
}

// MySQL server error numbers.
var (
	mysqlOperational = map[uint16]bool{
		1040: true, // ER_CON_COUNT_ERROR
		1044: true, // ER_DBACCESS_DENIED_ERROR
		1045: true, // ER_ACCESS_DENIED_ERROR
		1142: true, // ER_TABLEACCESS_DENIED_ERROR
		1205: true, // ER_LOCK_WAIT_TIMEOUT
		1213: true, // ER_LOCK_DEADLOCK
		1290: true, // ER_OPTION_PREVENTS_STATEMENT (read-only replica)
		1927: true, // ER_CONNECTION_KILLED
		2006: true, // CR_SERVER_GONE_ERROR
		2013: true, // CR_SERVER_LOST
	}
	mysqlProgramming = map[uint16]bool{
		1054: true, // ER_BAD_FIELD_ERROR
		1064: true, // ER_PARSE_ERROR
		1136: true, // ER_WRONG_VALUE_COUNT_ON_ROW
		1146: true, // ER_NO_SUCH_TABLE
	}
)

func classifyInsertError(err error) InsertErrorKind {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch {
		case mysqlOperational[myErr.Number]:
			return InsertOperational
		case mysqlProgramming[myErr.Number]:
			return InsertProgramming
		}
		return InsertUnexpected
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := pgErr.Code
		if len(class) > 2 {
			class = class[:2]
		}
		switch class {
		case "08", "28", "40", "53", "57":
			return InsertOperational
		case "42":
			return InsertProgramming
		}
		return InsertUnexpected
	}

	var netErr net.Error
	switch {
	case errors.Is(err, ErrPoolTimeout),
		errors.Is(err, ErrConnectionRefused),
		errors.Is(err, ErrInstanceNotFound),
		errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		pgconn.Timeout(err),
		errors.As(err, &netErr):
		return InsertOperational
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return InsertOperational
	}
	return InsertUnexpected
}
