package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/pebld/internal/logger"
	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/subject"
)

// Server is the HTTP status API.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once

	addrMu sync.RWMutex
	addr   net.Addr
	ready  chan struct{}
}

// NewServer creates a stopped API server over store and, optionally, cat.
func NewServer(config APIConfig, store *subject.Store, cat *catalog.Catalog, version string) *Server {
	config.ApplyDefaults()

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewRouter(store, cat, version),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config: config,
		ready:  make(chan struct{}),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("API server failed: %w", err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logger.KeyAddress, ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
			return
		}
		logger.Info("API server stopped")
	})
	return shutdownErr
}

// Addr blocks until Start has bound the listener and returns its address,
// or "" if binding failed.
func (s *Server) Addr() string {
	<-s.ready
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.config.Port
}
