package rowinserter

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const insertedMessage = "Inserted a row successfully in the database."

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Manager  *PoolManager
	Inserter *Inserter
	Names    NameGenerator
	// FailOnInsertError maps insert failures to 503 (retryable) or 500.
	// When false the handler answers 200 regardless, as the service always
	// has.
	FailOnInsertError bool
	Logger            *zap.Logger
}

// Handler inserts one synthetic row per request. The pool is built on the
// first request; while that fails every request answers 500 and retries.
type Handler struct {
	manager           *PoolManager
	inserter          *Inserter
	names             NameGenerator
	failOnInsertError bool
	logger            *zap.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Names == nil {
		opts.Names = FakeNames{}
	}
	if opts.Inserter == nil {
		opts.Inserter = NewInserter(opts.Logger, nil)
	}
	return &Handler{
		manager:           opts.Manager,
		inserter:          opts.Inserter,
		names:             opts.Names,
		failOnInsertError: opts.FailOnInsertError,
		logger:            opts.Logger.Named("http"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	pool, err := h.manager.GetOrInit(r.Context())
	if err != nil {
		h.logger.Error("Database is not available", zap.Error(err))
		http.Error(w, "Database connection is not available.", http.StatusInternalServerError)
		return
	}

	err = h.inserter.InsertRecord(r.Context(), pool, h.names.FirstName(), h.names.LastName())
	if err != nil && h.failOnInsertError {
		status := http.StatusInternalServerError
		var insErr *InsertError
		if errors.As(err, &insErr) && insErr.Retryable() {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "Failed to insert a row in the database.", status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, insertedMessage)
}

// Ready answers 200 once the pool is initialized and 503 before.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	state := h.manager.State()
	if state != StateReady {
		http.Error(w, state.String(), http.StatusServiceUnavailable)
		return
	}
	_, _ = io.WriteString(w, state.String())
}

// NewRouter routes GET and POST on / to h, readiness to /readyz and, when
// metrics is not nil, Prometheus to /metrics.
func NewRouter(h *Handler, metrics *Metrics) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", h).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/readyz", h.Ready).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}
