package rowinserter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(fetcher SecretFetcher, pool Pool, strict bool) (*Handler, *PoolManager) {
	m := NewPoolManager(PoolManagerOptions{
		SecretID: "db",
		Secrets:  fetcher,
		Open:     func(context.Context, Credentials) (Pool, error) { return pool, nil },
	})
	h := NewHandler(HandlerOptions{
		Manager:           m,
		Names:             fixedNames{first: "Ada", last: "Lovelace"},
		FailOnInsertError: strict,
		Logger:            zap.NewNop(),
	})
	return h, m
}

func TestApp_InsertsOneRowPerRequest(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	cfg := Config{SecretName: "db", Pool: testPoolConfig()}
	app := newApp(cfg, zap.NewNop(), &fakeFetcher{}, func(_ context.Context, creds Credentials) (Pool, error) {
		assert.Equal(t, "appdb", creds.DBName)
		return newSQLPool(db, cfg.Pool), nil
	})

	mock.ExpectBegin()
	mock.ExpectExec(insertUserMySQL).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := httptest.NewRecorder()
	NewRouter(app.Handler, app.Metrics).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Inserted a row successfully")
	assert.Equal(t, StateReady, app.Manager.State())
	assert.Equal(t, 5, app.Manager.Pool().Stats().MaxOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_InsertsGeneratedNames(t *testing.T) {
	pool := &fakePool{}
	h, _ := newTestHandler(&fakeFetcher{}, pool, false)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, insertedMessage, rec.Body.String())
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	}
	assert.Equal(t, [][2]string{{"Ada", "Lovelace"}, {"Ada", "Lovelace"}}, pool.Rows())
	assert.Equal(t, 0, pool.InUse())
}

func TestHandler_InitFailureThenRecovery(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(call int64) ([]byte, error) {
		if call == 1 {
			return nil, fmt.Errorf("%w: db", ErrSecretAccessDenied)
		}
		return []byte(testSecret), nil
	}}
	pool := &fakePool{}
	h, m := newTestHandler(fetcher, pool, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Database connection is not available.")
	assert.Equal(t, StateUninitialized, m.State())
	assert.Empty(t, pool.Rows())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), fetcher.calls.Load())
	assert.Len(t, pool.Rows(), 1)
}

func TestHandler_InitFailureDoesNotLeakCredentials(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(int64) ([]byte, error) {
		return []byte(`{"connection_name":"p:r:i","db_password":"hunter2"}`), nil
	}}
	h, _ := newTestHandler(fetcher, &fakePool{}, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestHandler_InsertFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		strict bool
		want   int
	}{
		{"compatible operational", &mysql.MySQLError{Number: 1040}, false, http.StatusOK},
		{"compatible programming", &mysql.MySQLError{Number: 1146}, false, http.StatusOK},
		{"strict operational", &mysql.MySQLError{Number: 1040}, true, http.StatusServiceUnavailable},
		{"strict programming", &mysql.MySQLError{Number: 1146}, true, http.StatusInternalServerError},
		{"strict unexpected", errors.New("boom"), true, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{insertErr: tt.err}
			h, _ := newTestHandler(&fakeFetcher{}, pool, tt.strict)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			assert.Equal(t, tt.want, rec.Code)
			if tt.strict {
				assert.Contains(t, rec.Body.String(), "Failed to insert a row")
			} else {
				assert.Equal(t, insertedMessage, rec.Body.String())
			}
			assert.Equal(t, 0, pool.InUse())
		})
	}
}

func TestHandler_RejectsOtherMethods(t *testing.T) {
	fetcher := &fakeFetcher{}
	h, m := newTestHandler(fetcher, &fakePool{}, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
	assert.Zero(t, fetcher.calls.Load())
	assert.Equal(t, StateUninitialized, m.State())
}

func TestRouter_Readiness(t *testing.T) {
	h, m := newTestHandler(&fakeFetcher{}, &fakePool{}, false)
	router := NewRouter(h, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNINITIALIZED")

	_, err := m.GetOrInit(context.Background())
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READY", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	app := newApp(Config{SecretName: "db", Pool: testPoolConfig()}, zap.NewNop(), &fakeFetcher{},
		func(context.Context, Credentials) (Pool, error) { return &fakePool{maxOpen: 5}, nil })
	router := NewRouter(app.Handler, app.Metrics)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `rowinserter_inserts_total{outcome="ok"} 1`)
	assert.Contains(t, body, "rowinserter_pool_max_open_connections 5")
	assert.Contains(t, body, "rowinserter_pool_ready 1")
	assert.Contains(t, body, `rowinserter_pool_initializations_total{result="ok"} 1`)
}

func TestApp_SecretClientFailureIsRetried(t *testing.T) {
	builds := 0
	secrets := NewLazySecretFetcher(func(context.Context) (SecretFetcher, error) {
		builds++
		if builds == 1 {
			return nil, errors.New("metadata server unreachable")
		}
		return &fakeFetcher{}, nil
	})
	pool := &fakePool{}
	app := newApp(Config{SecretName: "db", Pool: testPoolConfig()}, zap.NewNop(), secrets,
		func(context.Context, Credentials) (Pool, error) { return pool, nil })
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, StateUninitialized, app.Manager.State())

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StateReady, app.Manager.State())
	assert.Equal(t, 2, builds)
	assert.Len(t, pool.Rows(), 1)
}

func TestNewApp_MakesNoNetworkCalls(t *testing.T) {
	cfg := Config{SecretName: "db", SecretBackend: "gcp", Pool: testPoolConfig()}
	app := NewApp(cfg, zap.NewNop())
	assert.Equal(t, StateUninitialized, app.Manager.State())
	assert.NoError(t, app.Close())
}
