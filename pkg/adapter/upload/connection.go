package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/marmos91/pebld/internal/logger"
	proto "github.com/marmos91/pebld/internal/protocol/upload"
	"github.com/marmos91/pebld/internal/telemetry"
	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/subject"
)

// State is a step of the submission state machine.
type State int

const (
	StateAwaitFilename State = iota
	StateAwaitSize
	StateAwaitPayload
	StateAck
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitFilename:
		return "await_filename"
	case StateAwaitSize:
		return "await_size"
	case StateAwaitPayload:
		return "await_payload"
	case StateAck:
		return "ack"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Connection handles one submission:
//
//	AwaitFilename -> (AwaitSize -> AwaitPayload) x 2 -> Ack -> Closed
//
// Any error aborts the submission. The client then sees the connection
// close without an acknowledgement; files written so far stay on disk.
type Connection struct {
	adapter *Adapter
	conn    net.Conn
	id      string
	r       *idleReader

	clientIP string
	state    State
	slot     int
}

func newConnection(a *Adapter, conn net.Conn, id string) *Connection {
	return &Connection{
		adapter:  a,
		conn:     conn,
		id:       id,
		r:        &idleReader{conn: conn, timeout: a.config.IdleTimeout, shutdown: a.Shutdown},
		clientIP: hostOnly(conn.RemoteAddr()),
	}
}

// Serve runs the submission to completion and closes the connection.
func (c *Connection) Serve(ctx context.Context) {
	start := time.Now()

	ctx, span := telemetry.StartSubmissionSpan(ctx, c.id, c.conn.RemoteAddr().String(),
		telemetry.ClientIP(c.clientIP))
	defer span.End()

	lc := logger.NewLogContext(c.id, c.clientIP).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	defer c.handleConnectionClose(ctx)

	err := c.submit(ctx)

	outcome := "ok"
	if err != nil {
		outcome = proto.KindOf(err).String()
		telemetry.RecordError(ctx, err)
		telemetry.SetAttributes(ctx, telemetry.ErrorKind(outcome))
		c.logFailure(ctx, err)
	}
	c.state = StateClosed
	if m := c.adapter.metrics; m != nil {
		m.RecordSubmission(outcome, time.Since(start))
	}
}

// submit drives the state machine. It returns the first error, already
// classified as a protocol, connection or filesystem error.
func (c *Connection) submit(ctx context.Context) error {
	c.state = StateAwaitFilename
	req, err := proto.ReadRequest(c.r)
	if err != nil {
		return err
	}

	lc := logger.FromContext(ctx).WithSubject(req.SubjectCode)
	ctx = logger.WithContext(ctx, lc)
	telemetry.SetAttributes(ctx, telemetry.Subject(req.SubjectCode), telemetry.Filename(req.Filename))
	logger.DebugCtx(ctx, "Filename frame received", logger.Filename(req.Filename))

	sub, err := c.adapter.store.Open(req.SubjectCode)
	if err != nil {
		return proto.FilesystemError("open subject", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logger.WarnCtx(ctx, "Failed to close subject log", logger.Err(err))
		}
	}()

	if sub.Created {
		telemetry.SetAttributes(ctx, telemetry.NewSubject(true))
		logger.InfoCtx(ctx, "Subject created", logger.Path(sub.Dir))
		if m := c.adapter.metrics; m != nil {
			m.RecordSubjectCreated()
		}
	}

	var primary string
	for c.slot = 0; c.slot < proto.SlotsPerUpload; c.slot++ {
		stored, err := c.receiveSlot(ctx, req, sub, primary)
		if err != nil {
			return err
		}
		if c.slot == 0 {
			primary = stored
		}
	}

	c.state = StateAck
	if t := c.adapter.config.IdleTimeout; t > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(t))
	}
	if _, err := io.WriteString(c.conn, c.adapter.config.AckMessage); err != nil {
		return proto.ConnectionError("write acknowledgement", err)
	}

	logger.InfoCtx(ctx, "Upload complete",
		logger.Filename(primary),
		logger.DurationMs(lc.DurationMs()))
	return nil
}

// receiveSlot reads one size frame and its payload into the slot's file and
// journals it. primary is the stored slot 0 name, empty while receiving
// slot 0. It returns the base name the slot was stored under.
func (c *Connection) receiveSlot(ctx context.Context, req *proto.Request, sub *subject.Subject, primary string) (string, error) {
	start := time.Now()
	slot := c.slot

	ctx, span := telemetry.StartSlotSpan(ctx, slot)
	defer span.End()

	c.state = StateAwaitSize
	sf, err := proto.ReadSizeFrame(c.r)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	telemetry.SetAttributes(ctx, telemetry.Declared(sf.DeclaredLength))

	if limit := c.adapter.config.MaxPayloadSize; limit > 0 && sf.DeclaredLength > limit.Uint64() {
		err := proto.ProtocolErrorf("read size frame", "slot %d declares %d bytes, limit is %s", slot, sf.DeclaredLength, limit)
		telemetry.RecordError(ctx, err)
		return "", err
	}

	f, stored, err := c.createSlotFile(sub, req.Filename, primary)
	if err != nil {
		err = proto.FilesystemError("create slot file", err)
		telemetry.RecordError(ctx, err)
		return "", err
	}
	if slot == 0 {
		primary = stored
	}
	telemetry.SetAttributes(ctx, telemetry.StoredName(stored))

	c.state = StateAwaitPayload
	res, err := proto.Collect(c.r, sf.DeclaredLength, sf.Leading, f)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = proto.FilesystemError("close slot file", cerr)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "Slot aborted",
			logger.Slot(slot), logger.Path(sub.RelPath(stored)), logger.Bytes(res.Written), logger.Err(err))
		return "", err
	}

	entry := subject.Entry{
		Subject: req.SubjectCode,
		Time:    c.adapter.store.Now(),
		File:    sub.RelPath(primary),
		Address: c.clientIP,
	}
	if err := sub.Append(entry); err != nil {
		err = proto.FilesystemError("append log entry", err)
		telemetry.RecordError(ctx, err)
		return "", err
	}

	telemetry.SetAttributes(ctx,
		telemetry.Received(res.Received),
		telemetry.Terminator(res.Terminator.String()))

	c.index(ctx, entry, slot, sub.RelPath(stored), res)

	if m := c.adapter.metrics; m != nil {
		m.RecordSlot(slot, res.Written, res.Terminator.String(), time.Since(start))
	}

	logger.DebugCtx(ctx, "Slot stored",
		logger.Slot(slot),
		logger.Path(sub.RelPath(stored)),
		logger.KeyDeclared, sf.DeclaredLength,
		logger.Bytes(res.Written),
		logger.KeyTerminator, res.Terminator.String())

	return stored, nil
}

// createSlotFile opens the output file for the current slot: slot 0 gets a
// collision-free name derived from the requested filename, slot 1 the
// companion of slot 0.
func (c *Connection) createSlotFile(sub *subject.Subject, requested, primary string) (*os.File, string, error) {
	if c.slot == 0 {
		return sub.CreatePrimary(requested)
	}
	return sub.CreateCompanion(primary)
}

// index records the slot in the catalog. Failures are logged only.
func (c *Connection) index(ctx context.Context, e subject.Entry, slot int, stored string, res proto.CollectResult) {
	if c.adapter.catalog == nil {
		return
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCatalogAdd)
	defer span.End()

	_, err := c.adapter.catalog.Add(ctx, catalog.Record{
		Subject:      e.Subject,
		Time:         e.Time,
		Slot:         slot,
		File:         e.File,
		Stored:       stored,
		Address:      e.Address,
		Bytes:        res.Written,
		Terminator:   res.Terminator.String(),
		ConnectionID: c.id,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Failed to index upload", logger.Slot(slot), logger.Err(err))
	}
}

// logFailure logs an aborted submission once, tagged with the state it
// failed in. A peer that connects and leaves without sending anything is
// only worth a debug line.
func (c *Connection) logFailure(ctx context.Context, err error) {
	kind := proto.KindOf(err)
	args := []any{
		logger.KeyErrorKind, kind.String(),
		logger.KeyState, c.state.String(),
		logger.Err(err),
	}
	if c.state != StateAwaitFilename {
		args = append(args, logger.Slot(c.slot))
	}

	switch {
	case c.state == StateAwaitFilename && errors.Is(err, io.EOF):
		logger.DebugCtx(ctx, "Connection closed before filename frame", args...)
	case kind == proto.KindConnection:
		logger.WarnCtx(ctx, "Upload aborted by connection failure", args...)
	default:
		logger.ErrorCtx(ctx, "Upload rejected", args...)
	}
}

// handleConnectionClose recovers a panicking handler and closes the socket.
func (c *Connection) handleConnectionClose(ctx context.Context) {
	if r := recover(); r != nil {
		logger.ErrorCtx(ctx, "Panic in upload handler",
			logger.KeyState, c.state.String(),
			logger.KeyError, r,
			"stack", string(debug.Stack()))
		if m := c.adapter.metrics; m != nil {
			m.RecordSubmission("panic", 0)
		}
	}
	c.state = StateClosed
	_ = c.conn.Close()
}

// idleReader refreshes the read deadline before every read when an idle
// timeout is set, and stops reading once the server is shutting down.
type idleReader struct {
	conn     net.Conn
	timeout  time.Duration
	shutdown <-chan struct{}
}

func (r *idleReader) Read(p []byte) (int, error) {
	select {
	case <-r.shutdown:
		return 0, net.ErrClosed
	default:
	}
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}
	return r.conn.Read(p)
}

func hostOnly(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
