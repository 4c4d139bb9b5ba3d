package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsonwriter "github.com/dgellow/nimbus/internal/json"
	"github.com/dgellow/nimbus/internal/log"
)

// HTTPServer owns the listener for the public handler
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer wraps handler in a server listening on addr. Bodies are
// small JSON documents, so the read and write budgets stay short.
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	_ = jsonwriter.Write(w, map[string]string{"status": "ok"})
}

// Start blocks until the server fails or is shut down. A clean shutdown
// returns nil.
func (h *HTTPServer) Start() error {
	log.LogInfoWithFields("http", "HTTP server starting", map[string]any{
		"addr": h.server.Addr,
	})

	err := h.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests until ctx expires
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "HTTP server stopping", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.Shutdown(ctx); err != nil {
		return err
	}
	log.LogInfoWithFields("http", "HTTP server stopped", nil)
	return nil
}
