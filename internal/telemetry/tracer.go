package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys
const (
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrConnID     = "net.connection_id"

	AttrSubject    = "upload.subject"
	AttrFilename   = "upload.filename"
	AttrStored     = "upload.stored_name"
	AttrSlot       = "upload.slot"
	AttrDeclared   = "upload.declared_bytes"
	AttrReceived   = "upload.received_bytes"
	AttrTerminator = "upload.terminator"
	AttrErrorKind  = "upload.error_kind"
	AttrNewSubject = "upload.new_subject"
)

// Span names
const (
	SpanSubmission = "upload.submission"
	SpanSlot       = "upload.slot"
	SpanCatalogAdd = "catalog.add"
)

func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

func ConnectionID(id string) attribute.KeyValue {
	return attribute.String(AttrConnID, id)
}

func Subject(code string) attribute.KeyValue {
	return attribute.String(AttrSubject, code)
}

func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

func StoredName(name string) attribute.KeyValue {
	return attribute.String(AttrStored, name)
}

func Slot(n int) attribute.KeyValue {
	return attribute.Int(AttrSlot, n)
}

func Declared(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrDeclared, int64(n))
}

func Received(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrReceived, int64(n))
}

func Terminator(t string) attribute.KeyValue {
	return attribute.String(AttrTerminator, t)
}

func ErrorKind(kind string) attribute.KeyValue {
	return attribute.String(AttrErrorKind, kind)
}

func NewSubject(created bool) attribute.KeyValue {
	return attribute.Bool(AttrNewSubject, created)
}

// StartSubmissionSpan starts the server span covering one accepted connection.
func StartSubmissionSpan(ctx context.Context, connID, addr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{ConnectionID(connID), ClientAddr(addr)}, attrs...)
	return StartSpan(ctx, SpanSubmission,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...),
	)
}

// StartSlotSpan starts a child span for one payload slot.
func StartSlotSpan(ctx context.Context, slot int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSlot,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append([]attribute.KeyValue{Slot(slot)}, attrs...)...),
	)
}
