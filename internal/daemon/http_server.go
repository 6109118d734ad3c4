package daemon

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/metrics"
)

// HTTPServer serves /metrics and /healthz on the configured address.
type HTTPServer struct {
	addr   string
	daemon *Daemon
	server *http.Server
	ln     net.Listener
}

// NewHTTPServer creates a server for addr. Nothing listens until Start.
func NewHTTPServer(addr string, daemon *Daemon) *HTTPServer {
	return &HTTPServer{addr: addr, daemon: daemon}
}

// Start binds the address and serves in the background.
func (s *HTTPServer) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.DaemonError("failed to bind metrics listener").
			WithCause(err).
			WithContext("listen", s.addr).
			Build()
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.HTTPHandler(s.daemon.registry))
	mux.HandleFunc("GET /healthz", s.daemon.handleHealth)

	s.server = &http.Server{
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", logfields.Error(err))
		}
	}()
	slog.Info("Metrics server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *HTTPServer) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.DurationMS(time.Since(start)))
	})
}
