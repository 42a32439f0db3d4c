package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server represents an HTTP server
type Server struct {
	srv  *http.Server
	errs chan error
}

// New creates a new server instance. writeTimeout should cover one full
// enrichment, upstream calls included.
func New(handler http.Handler, port string, writeTimeout time.Duration) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  120 * time.Second,
		},
		errs: make(chan error, 1),
	}
}

// Start starts the server in the background. A listen failure is reported
// on Errors.
func (s *Server) Start() error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
	}()
	return nil
}

// Errors reports a failure of the listener
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
