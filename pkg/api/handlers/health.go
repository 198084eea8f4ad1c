package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/subject"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store   *subject.Store
	catalog *catalog.Catalog
	version string
}

// NewHealthHandler creates a health handler. cat may be nil when the
// catalog is disabled.
func NewHealthHandler(store *subject.Store, cat *catalog.Catalog, version string) *HealthHandler {
	return &HealthHandler{store: store, catalog: cat, version: version}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "pebld",
		"version": h.version,
	}))
}

// ComponentHealth is the readiness of one dependency.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Readiness handles GET /health/ready. It checks that the storage root is a
// writable directory and, when enabled, that the catalog answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("storage not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := []ComponentHealth{
		check("storage", func() error { return checkStorageRoot(h.store.Root()) }),
	}
	if h.catalog != nil {
		components = append(components, check("catalog", func() error { return h.catalog.Healthcheck(ctx) }))
	}

	for _, c := range components {
		if c.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(components))
			return
		}
	}
	writeJSON(w, http.StatusOK, healthyResponse(components))
}

func check(name string, fn func() error) ComponentHealth {
	start := time.Now()
	err := fn()
	c := ComponentHealth{Name: name, Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		c.Status = "unhealthy"
		c.Error = err.Error()
	}
	return c
}

func checkStorageRoot(root string) error {
	fi, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", root)
	}
	f, err := os.CreateTemp(root, ".pebld-ready-*")
	if err != nil {
		return fmt.Errorf("storage root %s is not writable: %w", root, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
