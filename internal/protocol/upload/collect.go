package upload

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

const (
	// ChunkSize bounds every payload read.
	ChunkSize = 1024

	// Sentinel ends a payload early when it closes a read.
	Sentinel = "!DONE!"
)

var sentinel = []byte(Sentinel)

// Terminator records which condition ended a payload.
type Terminator int

const (
	// TerminatedByLength: the declared length was received.
	TerminatedByLength Terminator = iota

	// TerminatedBySentinel: a read ended in !DONE!.
	TerminatedBySentinel
)

func (t Terminator) String() string {
	if t == TerminatedBySentinel {
		return "sentinel"
	}
	return "length"
}

// CollectResult summarises one collected payload.
type CollectResult struct {
	Received   uint64 // bytes taken off the wire, sentinel included
	Written    uint64 // bytes written to the sink
	Terminator Terminator
}

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

// Collect copies a payload from r to sink.
//
// initial (the size frame's leading bytes) is written first, as is, and
// counts toward declared. Only reads are checked for the sentinel. Collect
// then reads at most min(ChunkSize, remaining) bytes at a
// time until declared bytes have arrived, or until a read ends in !DONE!, in
// which case the sentinel is dropped and collection stops early.
//
// Up to len(Sentinel)-1 trailing bytes are held back between reads so a
// sentinel split across two reads is still recognised.
//
// A peer that closes before either condition is met yields a connection
// error; bytes received until then have been written.
func Collect(r io.Reader, declared uint64, initial []byte, sink io.Writer) (CollectResult, error) {
	c := &collector{sink: sink}
	res := CollectResult{Terminator: TerminatedByLength}

	finish := func(done bool) (CollectResult, error) {
		if done {
			res.Terminator = TerminatedBySentinel
		}
		res.Written = c.written
		return res, nil
	}

	if len(initial) > 0 {
		res.Received += uint64(len(initial))
		if err := c.write(initial); err != nil {
			res.Written = c.written
			return res, err
		}
	}

	bufp := chunkPool.Get().(*[]byte)
	defer chunkPool.Put(bufp)
	buf := *bufp

	for res.Received < declared {
		want := min(uint64(len(buf)), declared-res.Received)
		n, rerr := r.Read(buf[:want])
		if n > 0 {
			res.Received += uint64(n)
			done, err := c.feed(buf[:n])
			if err != nil {
				res.Written = c.written
				return res, err
			}
			if done {
				return finish(true)
			}
		}
		if rerr != nil {
			if rerr == io.EOF && res.Received >= declared {
				break
			}
			ferr := c.flush()
			res.Written = c.written
			if ferr != nil {
				return res, ferr
			}
			if rerr == io.EOF {
				rerr = fmt.Errorf("peer closed after %d of %d bytes: %w", res.Received, declared, io.ErrUnexpectedEOF)
			}
			return res, ConnectionError("collect payload", rerr)
		}
	}

	if err := c.flush(); err != nil {
		res.Written = c.written
		return res, err
	}
	return finish(false)
}

// collector writes chunks to sink while holding back a short tail that may
// be the start of a sentinel.
type collector struct {
	sink    io.Writer
	written uint64
	tail    [len(Sentinel) - 1]byte
	tailLen int
}

// feed writes chunk and reports whether it completed a sentinel.
func (c *collector) feed(chunk []byte) (bool, error) {
	const s = len(Sentinel)

	if len(chunk) >= s {
		if bytes.HasSuffix(chunk, sentinel) {
			if err := c.flush(); err != nil {
				return false, err
			}
			return true, c.write(chunk[:len(chunk)-s])
		}
		if err := c.flush(); err != nil {
			return false, err
		}
		keep := len(chunk) - (s - 1)
		if err := c.write(chunk[:keep]); err != nil {
			return false, err
		}
		c.tailLen = copy(c.tail[:], chunk[keep:])
		return false, nil
	}

	// Short read: join it with the held tail before looking for the sentinel.
	var small [2*s - 2]byte
	data := append(small[:0], c.tail[:c.tailLen]...)
	data = append(data, chunk...)
	c.tailLen = 0

	if bytes.HasSuffix(data, sentinel) {
		return true, c.write(data[:len(data)-s])
	}
	keep := max(0, len(data)-(s-1))
	if err := c.write(data[:keep]); err != nil {
		return false, err
	}
	c.tailLen = copy(c.tail[:], data[keep:])
	return false, nil
}

func (c *collector) flush() error {
	n := c.tailLen
	c.tailLen = 0
	return c.write(c.tail[:n])
}

func (c *collector) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := c.sink.Write(p)
	c.written += uint64(n)
	if err != nil {
		return FilesystemError("write payload", err)
	}
	return nil
}
