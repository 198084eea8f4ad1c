package metrics

// CatalogMetrics provides observability for the badger-backed catalog.
// Pass nil to disable collection.
type CatalogMetrics interface {
	// RecordCacheStats publishes badger's cumulative cache counters.
	//   - cacheType: "block" or "index"
	RecordCacheStats(cacheType string, hits, misses uint64, ratio float64)

	// RecordOperation counts catalog operations by name and outcome.
	RecordOperation(op string, err error)
}
