package upload

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxDigits is the longest decimal length that still leaves room for END.
const maxDigits = SizeFrameSize - len(SizeTerminator)

// Submission is what a client sends on one connection.
type Submission struct {
	Filename string
	Slots    [SlotsPerUpload][]byte
}

// EncodeFilenameFrame renders name as a 32-byte frame padded with '*'.
func EncodeFilenameFrame(name string) ([]byte, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}
	if strings.IndexByte(name, FilenameTerminator) >= 0 {
		return nil, ProtocolErrorf("encode filename frame", "filename %q contains %q", name, FilenameTerminator)
	}
	if len(name) > FilenameFrameSize {
		return nil, ProtocolErrorf("encode filename frame", "filename %q longer than %d bytes", name, FilenameFrameSize)
	}

	frame := make([]byte, FilenameFrameSize)
	n := copy(frame, name)
	for i := n; i < len(frame); i++ {
		frame[i] = FilenameTerminator
	}
	return frame, nil
}

// EncodeSizeFrame returns the 16-byte size frame for payload together with
// the part of payload that does not fit in it.
//
// The frame always holds exactly SizeFrameSize bytes. When the payload is too
// short to fill the window after the header, the decimal length is padded
// with leading zeros instead, so the server never waits for bytes that will
// not come.
func EncodeSizeFrame(payload []byte) (frame, rest []byte, err error) {
	digits := strconv.Itoa(len(payload))
	if len(digits) > maxDigits {
		return nil, nil, ProtocolErrorf("encode size frame", "payload of %d bytes exceeds the frame's length field", len(payload))
	}

	if short := maxDigits - len(payload); short > len(digits) {
		digits = strings.Repeat("0", short-len(digits)) + digits
	}

	frame = make([]byte, 0, SizeFrameSize)
	frame = append(frame, digits...)
	frame = append(frame, SizeTerminator...)
	lead := SizeFrameSize - len(frame)
	frame = append(frame, payload[:lead]...)
	return frame, payload[lead:], nil
}

// Send writes a complete submission to conn and returns the server's
// acknowledgement. The caller owns conn; Send half-closes nothing and reads
// the ack until the server closes the connection.
func Send(ctx context.Context, conn net.Conn, s Submission) (string, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	frame, err := EncodeFilenameFrame(s.Filename)
	if err != nil {
		return "", err
	}
	if _, err := conn.Write(frame); err != nil {
		return "", ConnectionError("send filename frame", err)
	}

	for i, payload := range s.Slots {
		head, rest, err := EncodeSizeFrame(payload)
		if err != nil {
			return "", err
		}
		if _, err := conn.Write(head); err != nil {
			return "", ConnectionError(fmt.Sprintf("send slot %d size frame", i), err)
		}
		if len(rest) == 0 {
			continue
		}
		if _, err := conn.Write(rest); err != nil {
			return "", ConnectionError(fmt.Sprintf("send slot %d payload", i), err)
		}
	}

	ack, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return string(ack), ConnectionError("read ack", err)
	}
	if len(ack) == 0 {
		return "", ConnectionError("read ack", io.ErrUnexpectedEOF)
	}
	return string(ack), nil
}

// Dial connects to address and sends s.
func Dial(ctx context.Context, address string, s Submission) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return "", ConnectionError("dial", err)
	}
	defer func() { _ = conn.Close() }()
	return Send(ctx, conn, s)
}
