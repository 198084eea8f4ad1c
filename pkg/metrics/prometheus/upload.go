package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/pebld/pkg/metrics"
)

// uploadMetrics is the Prometheus implementation of metrics.UploadMetrics.
type uploadMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	activeConnections      prometheus.Gauge

	slots        *prometheus.CounterVec
	slotBytes    *prometheus.CounterVec
	slotDuration *prometheus.HistogramVec
	submissions  *prometheus.CounterVec
	submitTime   prometheus.Histogram
	subjects     prometheus.Counter
}

// NewUploadMetrics creates the upload adapter metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() metrics.UploadMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newUploadMetrics(metrics.GetRegistry())
}

func newUploadMetrics(reg prometheus.Registerer) *uploadMetrics {
	f := promauto.With(reg)
	return &uploadMetrics{
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "pebld_connections_accepted_total",
			Help: "Total number of accepted upload connections",
		}),
		connectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "pebld_connections_closed_total",
			Help: "Total number of closed upload connections",
		}),
		connectionsForceClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "pebld_connections_force_closed_total",
			Help: "Connections force-closed after the shutdown timeout",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "pebld_connections_active",
			Help: "Upload connections currently being served",
		}),
		slots: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pebld_slots_stored_total",
			Help: "Upload slots stored, by slot index and terminator",
		}, []string{"slot", "terminator"}),
		slotBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pebld_slot_bytes_total",
			Help: "Payload bytes written to disk, by slot index",
		}, []string{"slot"}),
		slotDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pebld_slot_duration_seconds",
			Help:    "Time from size frame to stored file, by slot index",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"slot"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pebld_submissions_total",
			Help: "Finished connections by outcome (ok, protocol, connection, filesystem)",
		}, []string{"outcome"}),
		submitTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pebld_submission_duration_seconds",
			Help:    "Connection lifetime from accept to close",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}),
		subjects: f.NewCounter(prometheus.CounterOpts{
			Name: "pebld_subjects_created_total",
			Help: "Subject directories created",
		}),
	}
}

func (m *uploadMetrics) RecordConnectionAccepted()    { m.connectionsAccepted.Inc() }
func (m *uploadMetrics) RecordConnectionClosed()      { m.connectionsClosed.Inc() }
func (m *uploadMetrics) RecordConnectionForceClosed() { m.connectionsForceClosed.Inc() }
func (m *uploadMetrics) RecordSubjectCreated()        { m.subjects.Inc() }

func (m *uploadMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *uploadMetrics) RecordSlot(slot int, bytes uint64, terminator string, duration time.Duration) {
	label := slotLabel(slot)
	m.slots.WithLabelValues(label, terminator).Inc()
	m.slotBytes.WithLabelValues(label).Add(float64(bytes))
	m.slotDuration.WithLabelValues(label).Observe(duration.Seconds())
}

func (m *uploadMetrics) RecordSubmission(outcome string, duration time.Duration) {
	m.submissions.WithLabelValues(outcome).Inc()
	m.submitTime.Observe(duration.Seconds())
}

func slotLabel(slot int) string {
	switch slot {
	case 0:
		return "0"
	case 1:
		return "1"
	default:
		return "other"
	}
}
