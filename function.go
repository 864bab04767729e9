package rowinserter

import (
	"log"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
)

func init() {
	functions.HTTP("main", serveFunction)
}

// functionApp is built on the first invocation of the instance from the
// environment only. The secret client and the pool are built by the manager,
// which retries a failed initialization on the next request.
var functionApp = sync.OnceValues(func() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, logger), nil
})

func serveFunction(w http.ResponseWriter, r *http.Request) {
	app, err := functionApp()
	if err != nil {
		log.Printf("[function] misconfigured: %v", err)
		http.Error(w, "Function is misconfigured.", http.StatusInternalServerError)
		return
	}
	app.Handler.ServeHTTP(w, r)
}
