package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pebld/pkg/metrics"
)

func TestConstructorsDisabled(t *testing.T) {
	metrics.Disable()
	assert.Nil(t, NewUploadMetrics())
	assert.Nil(t, NewCatalogMetrics())
}

func TestConstructorsEnabled(t *testing.T) {
	metrics.UseRegistry(prometheus.NewRegistry())
	t.Cleanup(metrics.Disable)

	assert.NotNil(t, NewUploadMetrics())
	assert.NotNil(t, NewCatalogMetrics())
}

func TestUploadMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newUploadMetrics(reg)

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()
	m.SetActiveConnections(1)
	m.RecordSubjectCreated()

	m.RecordSlot(0, 100, "length", 10*time.Millisecond)
	m.RecordSlot(1, 44, "sentinel", 5*time.Millisecond)
	m.RecordSlot(1, 6, "sentinel", 5*time.Millisecond)
	m.RecordSubmission("ok", 20*time.Millisecond)
	m.RecordSubmission("protocol", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsForceClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subjects))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.slots.WithLabelValues("0", "length")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.slots.WithLabelValues("1", "sentinel")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.slotBytes.WithLabelValues("0")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.slotBytes.WithLabelValues("1")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("protocol")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.submitTime))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pebld_slot_duration_seconds"])
	assert.True(t, names["pebld_submissions_total"])
}

func TestSlotLabel(t *testing.T) {
	assert.Equal(t, "0", slotLabel(0))
	assert.Equal(t, "1", slotLabel(1))
	assert.Equal(t, "other", slotLabel(7))
}

func TestCatalogMetrics(t *testing.T) {
	m := newBadgerMetrics(prometheus.NewRegistry())

	m.RecordCacheStats("block", 30, 10, 0.75)
	m.RecordOperation("add", nil)
	m.RecordOperation("add", nil)
	m.RecordOperation("add", errors.New("boom"))

	assert.Equal(t, 0.75, testutil.ToFloat64(m.cacheHitRatio.WithLabelValues("block")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("block")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.cacheMisses.WithLabelValues("block")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("add", "error")))
}
