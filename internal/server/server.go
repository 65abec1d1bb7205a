// Package server runs the engine's HTTP listener.
package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"area-engine/internal/common/logging"
)

type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
	logger  logging.Logger
	errCh   chan error
}

// New creates a server listening on port. TLS is used when both tlsCert and
// tlsKey are set.
func New(handler http.Handler, port, tlsCert, tlsKey string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "http"}),
		errCh:   make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind failures are
// returned; later serve failures arrive on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		go s.serve(func() error { return s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey) })
	} else {
		go s.serve(func() error { return s.srv.Serve(ln) })
	}

	s.logger.Info("HTTP server listening", logging.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) serve(fn func() error) {
	if err := fn(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server failed", err)
		s.errCh <- err
	}
}

// Errors reports a serve failure after Start.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
