package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/pebld/pkg/metrics"
)

// badgerMetrics is the Prometheus implementation of metrics.CatalogMetrics.
type badgerMetrics struct {
	cacheHitRatio *prometheus.GaugeVec
	cacheHits     *prometheus.GaugeVec
	cacheMisses   *prometheus.GaugeVec
	operations    *prometheus.CounterVec
}

// NewCatalogMetrics creates the catalog metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCatalogMetrics() metrics.CatalogMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newBadgerMetrics(metrics.GetRegistry())
}

func newBadgerMetrics(reg prometheus.Registerer) *badgerMetrics {
	f := promauto.With(reg)
	return &badgerMetrics{
		cacheHitRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pebld_catalog_cache_hit_ratio",
			Help: "Catalog BadgerDB cache hit ratio (0.0 to 1.0) by cache type",
		}, []string{"cache_type"}), // "block", "index"
		cacheHits: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pebld_catalog_cache_hits",
			Help: "Cumulative catalog BadgerDB cache hits by cache type",
		}, []string{"cache_type"}),
		cacheMisses: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pebld_catalog_cache_misses",
			Help: "Cumulative catalog BadgerDB cache misses by cache type",
		}, []string{"cache_type"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pebld_catalog_operations_total",
			Help: "Catalog operations by name and outcome",
		}, []string{"op", "outcome"}),
	}
}

func (m *badgerMetrics) RecordCacheStats(cacheType string, hits, misses uint64, ratio float64) {
	m.cacheHitRatio.WithLabelValues(cacheType).Set(ratio)
	m.cacheHits.WithLabelValues(cacheType).Set(float64(hits))
	m.cacheMisses.WithLabelValues(cacheType).Set(float64(misses))
}

func (m *badgerMetrics) RecordOperation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}
