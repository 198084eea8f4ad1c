package metrics

import "time"

// UploadMetrics provides observability for the upload adapter.
//
// Pass nil to disable collection:
//
//	m := prometheus.NewUploadMetrics() // nil unless metrics.InitRegistry ran
//	a := upload.New(cfg, store, upload.WithMetrics(m))
type UploadMetrics interface {
	// Connection lifecycle, driven by the accept loop.
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)

	// RecordSlot records one stored slot.
	//   - slot: slot index (0 or 1)
	//   - bytes: payload bytes written to disk
	//   - terminator: "length" or "sentinel"
	RecordSlot(slot int, bytes uint64, terminator string, duration time.Duration)

	// RecordSubmission records a finished connection. outcome is "ok" or the
	// failure kind ("protocol", "connection", "filesystem").
	RecordSubmission(outcome string, duration time.Duration)

	// RecordSubjectCreated counts subject directories created on first upload.
	RecordSubjectCreated()
}
