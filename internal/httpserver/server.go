// Package httpserver serves the repo operations over plain-text HTTP.
// Responses are text/plain (metadata is JSON) and uncached so curl and
// LLM tool fetchers get exactly what is on disk right now.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Thordata/thordata-llm-code-share/internal/logging"
)

// Server owns the TCP listener lifecycle around an http.Handler:
// Serve(ctx) blocks until the context is cancelled, then drains
// in-flight requests.
type Server struct {
	address string
	handler http.Handler
	logger  *logging.AppLogger

	shutdownTimeout time.Duration

	// ready is closed once the listener is bound and accepting.
	ready chan struct{}

	// addr is the resolved listen address, valid after ready closes.
	addr net.Addr
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Bind is the listen interface, Port the TCP port.
	Bind string
	Port int

	// Handler routes requests. Required.
	Handler http.Handler

	// ShutdownTimeout bounds the wait for in-flight requests during
	// graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger defaults to the process logger.
	Logger *logging.AppLogger
}

// NewServer creates a server for the configured address. Call Serve to
// start accepting connections.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Handler == nil {
		panic("httpserver: Handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefault()
	}
	timeout := cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		address:         fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		handler:         cfg.Handler,
		logger:          logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready returns a channel closed once the server is accepting
// connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Valid only after Ready()
// closes; with port 0 it carries the OS-assigned port.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then shuts down
// gracefully, waiting up to ShutdownTimeout for active requests.
func (s *Server) Serve(ctx context.Context) error {
	// Bind before signalling readiness so Addr is resolvable.
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// Snapshot chunks can be hundreds of kilobytes, so the write
		// timeout is generous; headers stay tight.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("HTTP server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
