// Package metrics defines the observability interfaces used by pebld
// components and the process-wide Prometheus registry behind them.
//
// Metrics are optional. Constructors in the prometheus subpackage return nil
// until InitRegistry has been called, and every component accepts a nil
// recorder with zero overhead.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process registry with Go runtime and process
// collectors. Calling it again replaces the registry.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mu.Lock()
	registry = reg
	mu.Unlock()
	return reg
}

// UseRegistry installs reg as the process registry. Tests use it with a
// bare registry.
func UseRegistry(reg *prometheus.Registry) {
	mu.Lock()
	registry = reg
	mu.Unlock()
}

// Disable drops the registry; subsequent constructors return nil.
func Disable() {
	mu.Lock()
	registry = nil
	mu.Unlock()
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
