package infra

import (
	"context"
	"net"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server. Every request context derives from the base
// context given to NewHTTPServer, so cancelling it (on SIGTERM, say) reaches
// handlers that are still running long generations.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates a server listening on cfg.Port. A nil base context
// means context.Background.
func NewHTTPServer(base context.Context, cfg *Config, handler http.Handler) *HTTPServer {
	if base == nil {
		base = context.Background()
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	return &HTTPServer{server: srv}
}

// Start runs the HTTP server in the current goroutine.
func (s *HTTPServer) Start() error {
	if s.server == nil {
		return nil
	}
	return s.server.ListenAndServe()
}

// Serve accepts connections on l in the current goroutine.
func (s *HTTPServer) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown stops accepting connections and waits for running handlers until
// ctx expires. It does not cancel them; cancel the base context for that.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
