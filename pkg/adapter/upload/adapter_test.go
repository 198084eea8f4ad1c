package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pebld/internal/logger"
	proto "github.com/marmos91/pebld/internal/protocol/upload"
	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/subject"
)

// startAdapter runs an adapter on a loopback port until the test ends.
func startAdapter(t *testing.T, cfg Config, opts ...Option) (*Adapter, *subject.Store, string) {
	t.Helper()

	store, err := subject.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	a, err := New(cfg, store, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	addr := a.GetListenerAddr()
	require.NotEmpty(t, addr)

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("adapter did not stop")
		}
	})
	return a, store, addr
}

func send(t *testing.T, addr, name string, slot0, slot1 []byte) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := proto.Dial(ctx, addr, proto.Submission{
		Filename: name,
		Slots:    [proto.SlotsPerUpload][]byte{slot0, slot1},
	})
	require.NoError(t, err)
	return ack
}

func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readAck reads until the server closes the connection.
func readAck(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	b, err := io.ReadAll(conn)
	if err != nil {
		var ne net.Error
		require.False(t, errors.As(err, &ne) && ne.Timeout(), "server never closed the connection")
	}
	return string(b)
}

func filenameFrame(name string) []byte {
	return []byte(name + strings.Repeat("*", proto.FilenameFrameSize-len(name)))
}

func sizeFrame(n int) []byte {
	return []byte(fmt.Sprintf("%013dEND", n))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func logLines(t *testing.T, store *subject.Store, code string) []string {
	t.Helper()
	return strings.Split(strings.TrimRight(readFile(t, store.LogPath(code)), "\n"), "\n")
}

func TestUploadEndToEnd(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})

	csv := []byte("time,value\n1,2\n3,4\n")
	raw := bytes.Repeat([]byte("x"), 3000)

	ack := send(t, addr, "SUBJ001_trial.csv", csv, raw)
	assert.Equal(t, DefaultAckMessage, ack)

	dir := filepath.Join(store.Root(), "SUBJ001")
	assert.Equal(t, string(csv), readFile(t, filepath.Join(dir, "SUBJ001_trial.csv")))
	assert.Equal(t, string(raw), readFile(t, filepath.Join(dir, "SUBJ001_trial")))

	lines := logLines(t, store, "SUBJ001")
	require.Len(t, lines, 3)
	assert.Equal(t, subject.LogHeader, lines[0])
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4, line)
		assert.Equal(t, "SUBJ001", fields[0])
		assert.Equal(t, "SUBJ001/SUBJ001_trial.csv", fields[2])
		assert.Equal(t, "127.0.0.1", fields[3])
	}
}

func TestDuplicateFilenameIsRenamed(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})

	send(t, addr, "SUBJ001_trial.csv", []byte("first"), []byte("first-raw"))
	send(t, addr, "SUBJ001_trial.csv", []byte("second"), []byte("second-raw"))

	dir := filepath.Join(store.Root(), "SUBJ001")
	assert.Equal(t, "first", readFile(t, filepath.Join(dir, "SUBJ001_trial.csv")))
	assert.Equal(t, "second", readFile(t, filepath.Join(dir, "SUBJ001_trial(1).csv")))
	assert.Equal(t, "second-raw", readFile(t, filepath.Join(dir, "SUBJ001_trial(1)")))

	lines := logLines(t, store, "SUBJ001")
	require.Len(t, lines, 5, "one header, no second header, two rows per upload")
	assert.Equal(t, subject.LogHeader, lines[0])
	assert.Contains(t, lines[3], "SUBJ001/SUBJ001_trial(1).csv")
	assert.Contains(t, lines[4], "SUBJ001/SUBJ001_trial(1).csv")
}

func TestSentinelEndsPayloadEarly(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})
	conn := dialRaw(t, addr)

	body := bytes.Repeat([]byte("d"), 44)

	_, err := conn.Write(filenameFrame("S2_early.csv"))
	require.NoError(t, err)
	_, err = conn.Write(sizeFrame(1000))
	require.NoError(t, err)
	_, err = conn.Write(append(append([]byte{}, body...), proto.Sentinel...))
	require.NoError(t, err)

	// The sentinel only counts at the end of a read, so let the server
	// consume it before the next slot can share a segment with it.
	primary := filepath.Join(store.Root(), "S2", "S2_early.csv")
	require.Eventually(t, func() bool {
		fi, err := os.Stat(primary)
		return err == nil && fi.Size() == int64(len(body))
	}, 5*time.Second, 5*time.Millisecond)

	_, err = conn.Write(sizeFrame(3))
	require.NoError(t, err)
	_, err = conn.Write([]byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAckMessage, readAck(t, conn))

	dir := filepath.Join(store.Root(), "S2")
	assert.Equal(t, string(body), readFile(t, filepath.Join(dir, "S2_early.csv")))
	assert.Equal(t, "abc", readFile(t, filepath.Join(dir, "S2_early")))
}

func TestLeadingBytesInSizeFrame(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})
	conn := dialRaw(t, addr)

	_, err := conn.Write(filenameFrame("S3_lead.csv"))
	require.NoError(t, err)

	// "12END" leaves 11 payload bytes inside the 16-byte window.
	_, err = conn.Write([]byte("12ENDhello world"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("!"))
	require.NoError(t, err)

	_, err = conn.Write([]byte("0000000000000END"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAckMessage, readAck(t, conn))

	dir := filepath.Join(store.Root(), "S3")
	assert.Equal(t, "hello world!", readFile(t, filepath.Join(dir, "S3_lead.csv")))
	assert.Equal(t, "", readFile(t, filepath.Join(dir, "S3_lead")))
}

func TestProtocolErrorClosesWithoutAck(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})

	conn := dialRaw(t, addr)
	_, err := conn.Write(filenameFrame("S4_bad.csv"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("no terminator!!!"))
	require.NoError(t, err)

	assert.Empty(t, readAck(t, conn))

	// The subject directory exists but nothing was journaled.
	lines := logLines(t, store, "S4")
	assert.Equal(t, []string{subject.LogHeader}, lines)

	// The accept loop keeps serving.
	ack := send(t, addr, "S4_good.csv", []byte("ok"), []byte("ok"))
	assert.Equal(t, DefaultAckMessage, ack)
}

func TestRejectedFilenames(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})

	for _, name := range []string{"../evil_x", "_nocode.csv", ".hidden_x"} {
		t.Run(name, func(t *testing.T) {
			conn := dialRaw(t, addr)
			_, err := conn.Write(filenameFrame(name))
			require.NoError(t, err)
			assert.Empty(t, readAck(t, conn))
		})
	}

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPeerClosesMidPayload(t *testing.T) {
	m := newFakeMetrics()
	_, store, addr := startAdapter(t, Config{}, WithMetrics(m))

	conn := dialRaw(t, addr)
	_, err := conn.Write(filenameFrame("S5_cut.csv"))
	require.NoError(t, err)
	_, err = conn.Write(sizeFrame(100))
	require.NoError(t, err)
	_, err = conn.Write(bytes.Repeat([]byte("p"), 10))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return m.outcome("connection") == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The partial file stays on disk, the journal has no row for it.
	assert.Equal(t, strings.Repeat("p", 10), readFile(t, filepath.Join(store.Root(), "S5", "S5_cut.csv")))
	assert.Equal(t, []string{subject.LogHeader}, logLines(t, store, "S5"))
}

func TestMaxPayloadSize(t *testing.T) {
	_, store, addr := startAdapter(t, Config{MaxPayloadSize: 8})

	conn := dialRaw(t, addr)
	_, err := conn.Write(filenameFrame("S6_big.csv"))
	require.NoError(t, err)
	_, err = conn.Write(sizeFrame(9))
	require.NoError(t, err)

	assert.Empty(t, readAck(t, conn))
	_, err = os.Stat(filepath.Join(store.Root(), "S6", "S6_big.csv"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, DefaultAckMessage, send(t, addr, "S6_small.csv", []byte("8 bytes!"), nil))
}

func TestIdleTimeout(t *testing.T) {
	_, _, addr := startAdapter(t, Config{IdleTimeout: 100 * time.Millisecond})

	conn := dialRaw(t, addr)
	_, err := conn.Write([]byte("S7_slow"))
	require.NoError(t, err)

	start := time.Now()
	assert.Empty(t, readAck(t, conn))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCustomAckMessage(t *testing.T) {
	_, _, addr := startAdapter(t, Config{AckMessage: "got it"})
	assert.Equal(t, "got it", send(t, addr, "S8_a.csv", []byte("a"), []byte("b")))
}

func TestConcurrentSubmissionsShareJournal(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})

	const clients = 16
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			ack, err := proto.Dial(ctx, addr, proto.Submission{
				Filename: "MANY_run.csv",
				Slots:    [proto.SlotsPerUpload][]byte{[]byte(fmt.Sprintf("client %d", i)), []byte("raw")},
			})
			assert.NoError(t, err)
			assert.Equal(t, DefaultAckMessage, ack)
		}()
	}
	wg.Wait()

	lines := logLines(t, store, "MANY")
	require.Len(t, lines, 1+clients*proto.SlotsPerUpload)
	assert.Equal(t, subject.LogHeader, lines[0])

	seen := make(map[string]int)
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4, line)
		seen[fields[2]]++
	}
	assert.Len(t, seen, clients, "every client got its own slot 0 name")
	for file, n := range seen {
		assert.Equal(t, proto.SlotsPerUpload, n, file)
	}
}

func TestSequentialWithOneConnection(t *testing.T) {
	_, store, addr := startAdapter(t, Config{MaxConnections: 1})

	for range 3 {
		send(t, addr, "SEQ_a.csv", []byte("x"), []byte("y"))
	}
	assert.Len(t, logLines(t, store, "SEQ"), 1+3*proto.SlotsPerUpload)
}

func TestCatalogAndMetrics(t *testing.T) {
	cat, err := catalog.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	m := newFakeMetrics()
	_, _, addr := startAdapter(t, Config{}, WithCatalog(cat), WithMetrics(m))

	send(t, addr, "CAT_a.csv", []byte("12345"), []byte("abc"))

	recs, err := cat.Records(context.Background(), "CAT", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	bySlot := map[int]catalog.Record{recs[0].Slot: recs[0], recs[1].Slot: recs[1]}
	assert.Equal(t, "CAT/CAT_a.csv", bySlot[0].Stored)
	assert.Equal(t, "CAT/CAT_a", bySlot[1].Stored)
	assert.Equal(t, "CAT/CAT_a.csv", bySlot[1].File)
	assert.Equal(t, uint64(5), bySlot[0].Bytes)
	assert.Equal(t, uint64(3), bySlot[1].Bytes)
	assert.Equal(t, "length", bySlot[0].Terminator)

	require.Eventually(t, func() bool { return m.outcome("ok") == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, m.slotCount())
	assert.Equal(t, 1, m.subjectsCreated())
}

func TestStopInterruptsIdleClient(t *testing.T) {
	a, _, addr := startAdapter(t, Config{})

	conn := dialRaw(t, addr)
	_, err := conn.Write([]byte("S9_hang"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.GetActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	assert.Empty(t, readAck(t, conn))
	assert.Equal(t, int32(0), a.GetActiveConnections())
}

func TestNewValidatesConfig(t *testing.T) {
	store, err := subject.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = New(Config{Port: 70000}, store)
	assert.Error(t, err)

	_, err = New(Config{BindAddress: "not-an-ip"}, store)
	assert.Error(t, err)

	_, err = New(Config{}, nil)
	assert.Error(t, err)

	a, err := New(Config{}, store)
	require.NoError(t, err)
	assert.Equal(t, DefaultAckMessage, a.Settings().AckMessage)
	assert.Equal(t, Protocol, a.Protocol())
}

// syncBuffer is a bytes.Buffer safe for the logger and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// line returns the first logged line containing msg.
func (b *syncBuffer) line(msg string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(l, msg) {
			return l
		}
	}
	return ""
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	logger.InitWithWriter(buf, "DEBUG", "text", false)
	t.Cleanup(func() { logger.InitWithWriter(os.Stderr, "INFO", "text", false) })
	return buf
}

func TestFailureLoggedWithFailingState(t *testing.T) {
	logs := captureLogs(t)
	_, _, addr := startAdapter(t, Config{})

	t.Run("SilentPeer", func(t *testing.T) {
		conn := dialRaw(t, addr)
		require.NoError(t, conn.(*net.TCPConn).CloseWrite())
		assert.Empty(t, readAck(t, conn))

		line := logs.line("Connection closed before filename frame")
		require.NotEmpty(t, line)
		assert.Contains(t, line, "[DEBUG]")
		assert.Contains(t, line, "state=await_filename")
		assert.NotContains(t, line, "slot=")
	})

	t.Run("BadSizeFrame", func(t *testing.T) {
		conn := dialRaw(t, addr)
		_, err := conn.Write(filenameFrame("L1_bad.csv"))
		require.NoError(t, err)
		_, err = conn.Write([]byte("no terminator!!!"))
		require.NoError(t, err)
		assert.Empty(t, readAck(t, conn))

		line := logs.line("Upload rejected")
		require.NotEmpty(t, line)
		assert.Contains(t, line, "[ERROR]")
		assert.Contains(t, line, "error_kind=protocol")
		assert.Contains(t, line, "state=await_size")
		assert.Contains(t, line, "slot=0")
	})
}

func TestSentinelInLeadingBytesIsData(t *testing.T) {
	_, store, addr := startAdapter(t, Config{})

	ack := send(t, addr, "S9_x.csv", []byte("ab!DONE!"), []byte("c"))
	assert.Equal(t, DefaultAckMessage, ack)

	dir := filepath.Join(store.Root(), "S9")
	assert.Equal(t, "ab!DONE!", readFile(t, filepath.Join(dir, "S9_x.csv")))
	assert.Equal(t, "c", readFile(t, filepath.Join(dir, "S9_x")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "await_filename", StateAwaitFilename.String())
	assert.Equal(t, "await_payload", StateAwaitPayload.String())
	assert.Equal(t, "state(42)", State(42).String())
}

// fakeMetrics records UploadMetrics calls.
type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	slots    int
	subjects int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: make(map[string]int)}
}

func (f *fakeMetrics) RecordConnectionAccepted()        {}
func (f *fakeMetrics) RecordConnectionClosed()          {}
func (f *fakeMetrics) RecordConnectionForceClosed()     {}
func (f *fakeMetrics) SetActiveConnections(count int32) {}

func (f *fakeMetrics) RecordSlot(int, uint64, string, time.Duration) {
	f.mu.Lock()
	f.slots++
	f.mu.Unlock()
}

func (f *fakeMetrics) RecordSubmission(outcome string, _ time.Duration) {
	f.mu.Lock()
	f.outcomes[outcome]++
	f.mu.Unlock()
}

func (f *fakeMetrics) RecordSubjectCreated() {
	f.mu.Lock()
	f.subjects++
	f.mu.Unlock()
}

func (f *fakeMetrics) outcome(o string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[o]
}

func (f *fakeMetrics) slotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots
}

func (f *fakeMetrics) subjectsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subjects
}
