// Package server wires the upload listener, the optional catalog, the
// status API and the metrics endpoint into one process lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/pebld/internal/logger"
	"github.com/marmos91/pebld/pkg/adapter/upload"
	"github.com/marmos91/pebld/pkg/api"
	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/config"
	"github.com/marmos91/pebld/pkg/metrics"
	promx "github.com/marmos91/pebld/pkg/metrics/prometheus"
	"github.com/marmos91/pebld/pkg/subject"
)

// auxShutdownTimeout bounds stopping the HTTP servers.
const auxShutdownTimeout = 5 * time.Second

// Server owns every long-running component of a pebld process.
type Server struct {
	cfg     *config.Config
	version string

	store   *subject.Store
	catalog *catalog.Catalog
	upload  *upload.Adapter
	api     *api.Server
	metrics *metrics.Server
}

// New builds the components described by cfg without starting any of them.
// cfg must already have defaults applied.
func New(cfg *config.Config, version string) (*Server, error) {
	s := &Server{cfg: cfg, version: version}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		s.metrics = metrics.NewServer(cfg.Metrics.Port)
	}

	store, err := subject.NewStore(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage root: %w", err)
	}
	s.store = store

	opts := []upload.Option{upload.WithMetrics(promx.NewUploadMetrics())}

	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(cfg.CatalogPath(), promx.NewCatalogMetrics())
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		s.catalog = cat
		opts = append(opts, upload.WithCatalog(cat))
	}

	serverCfg := cfg.Server
	serverCfg.ShutdownTimeout = cfg.ShutdownTimeout
	adapter, err := upload.New(serverCfg, store, opts...)
	if err != nil {
		s.closeCatalog()
		return nil, fmt.Errorf("failed to create upload server: %w", err)
	}
	s.upload = adapter

	if cfg.API.IsEnabled() {
		s.api = api.NewServer(cfg.API, store, s.catalog, version)
	}

	return s, nil
}

// Store returns the subject store.
func (s *Server) Store() *subject.Store { return s.store }

// UploadAddr blocks until the upload listener is bound and returns its
// address, or "" if binding failed.
func (s *Server) UploadAddr() string { return s.upload.GetListenerAddr() }

// Serve runs every component until ctx is cancelled or one of them fails,
// then shuts all of them down. The upload listener stops accepting,
// interrupts blocked reads and gives handlers up to the configured shutdown
// timeout to return before force-closing them.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("Starting pebld",
		"version", s.version,
		"storage_root", s.store.Root(),
		"catalog", s.catalog != nil,
		"api", s.api != nil,
		"metrics", s.metrics != nil)

	auxErr := make(chan error, 2)

	if s.catalog != nil {
		go s.catalog.PublishStats(ctx, s.cfg.Catalog.StatsInterval)
	}
	if s.metrics != nil {
		go func() {
			if err := s.metrics.Start(ctx); err != nil {
				auxErr <- err
			}
		}()
	}
	if s.api != nil {
		go func() {
			if err := s.api.Start(ctx); err != nil {
				auxErr <- err
			}
		}()
	}

	uploadDone := make(chan error, 1)
	go func() {
		uploadDone <- s.upload.Serve(ctx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", ctx.Err())
		serveErr = <-uploadDone

	case err := <-uploadDone:
		if err != nil {
			logger.Error("Upload server failed - initiating shutdown", logger.Err(err))
			serveErr = fmt.Errorf("upload server: %w", err)
		}

	case err := <-auxErr:
		logger.Error("Auxiliary server failed - initiating shutdown", logger.Err(err))
		cancel()
		serveErr = errors.Join(err, <-uploadDone)
	}

	cancel()
	s.shutdown()

	logger.Info("pebld stopped")
	return serveErr
}

// shutdown stops the HTTP servers and closes the catalog. The upload
// listener has already drained by the time this runs.
func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), auxShutdownTimeout)
	defer cancel()

	if s.api != nil {
		if err := s.api.Stop(ctx); err != nil {
			logger.Warn("API server shutdown error", logger.Err(err))
		}
	}
	if s.metrics != nil {
		if err := s.metrics.Stop(ctx); err != nil {
			logger.Warn("Metrics server shutdown error", logger.Err(err))
		}
	}
	s.closeCatalog()
}

func (s *Server) closeCatalog() {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Close(); err != nil {
		logger.Warn("Catalog close error", logger.Err(err))
	}
	s.catalog = nil
}
