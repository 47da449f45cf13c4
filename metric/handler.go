package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/agentsdk/errors"
)

// Server represents the metrics HTTP server
type Server struct {
	port     int
	path     string
	server   *http.Server
	listener net.Listener
	registry *MetricsRegistry
	extra    map[string]http.Handler
	mu       sync.Mutex // protects server and listener
}

// NewServer creates a new metrics server with the provided registry
func NewServer(port int, path string, registry *MetricsRegistry) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		extra:    make(map[string]http.Handler),
	}
}

// Handle mounts an additional handler, typically the health endpoint. It must
// be called before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[pattern] = h
}

// Start binds the listener and serves in the background. Serve errors after
// a successful bind are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}

	if s.registry == nil {
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to listen on port %d", s.port))
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting up to timeout for in-flight scrapes
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server = nil // reset server field to allow restart
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop",
			"failed to stop HTTP server")
	}
	return nil
}

// Address returns the server address
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	port := s.port
	if s.listener != nil {
		if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
	}
	return fmt.Sprintf("http://localhost:%d%s", port, s.path)
}
