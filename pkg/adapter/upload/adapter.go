// Package upload serves the upload protocol: one submission per TCP
// connection, stored as two files in the submitter's subject directory.
package upload

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/pebld/pkg/adapter"
	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/metrics"
	"github.com/marmos91/pebld/pkg/subject"
)

// Protocol is the adapter's name in logs and errors.
const Protocol = "upload"

// Adapter accepts upload connections and hands each to its own Connection.
type Adapter struct {
	*adapter.BaseAdapter

	config  Config
	store   *subject.Store
	catalog *catalog.Catalog
	metrics metrics.UploadMetrics
}

var _ adapter.Adapter = (*Adapter)(nil)

// Option configures optional collaborators.
type Option func(*Adapter)

// WithMetrics records connection and slot metrics. nil is ignored.
func WithMetrics(m metrics.UploadMetrics) Option {
	return func(a *Adapter) {
		if m != nil {
			a.metrics = m
			a.BaseAdapter.Metrics = m
		}
	}
}

// WithCatalog indexes every stored slot. nil is ignored.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *Adapter) {
		a.catalog = c
	}
}

// New creates a stopped adapter storing uploads in store.
func New(cfg Config, store *subject.Store, opts ...Option) (*Adapter, error) {
	if store == nil {
		return nil, fmt.Errorf("upload adapter requires a subject store")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid upload config: %w", err)
	}

	base := adapter.NewBaseAdapter(adapter.BaseConfig{
		BindAddress:        cfg.BindAddress,
		Port:               cfg.Port,
		MaxConnections:     cfg.MaxConnections,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		MetricsLogInterval: cfg.MetricsLogInterval,
	}, Protocol)

	a := &Adapter{
		BaseAdapter: base,
		config:      cfg,
		store:       store,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Serve runs the accept loop until ctx is cancelled or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn, id string) adapter.ConnectionHandler {
	return newConnection(a, conn, id)
}

// Settings returns the effective configuration, defaults applied.
func (a *Adapter) Settings() Config {
	return a.config
}
