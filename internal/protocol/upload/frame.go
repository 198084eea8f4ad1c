package upload

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// FilenameFrameSize is the fixed size of the filename frame.
	FilenameFrameSize = 32

	// SizeFrameSize is the fixed size of each slot's size frame.
	SizeFrameSize = 16

	// FilenameTerminator ends the filename inside its frame.
	FilenameTerminator = '*'

	// SizeTerminator follows the decimal length inside the size frame.
	SizeTerminator = "END"
)

// SizeFrame is a parsed size frame.
type SizeFrame struct {
	// DeclaredLength is the total payload length announced by the client.
	DeclaredLength uint64

	// Leading holds payload bytes that arrived in the same 16-byte window
	// after the END sentinel. They count toward DeclaredLength.
	Leading []byte
}

// ReadFilenameFrame reads the 32-byte filename frame and returns the filename
// it carries. Use ReadRequest to also validate it.
func ReadFilenameFrame(r io.Reader) (string, error) {
	var frame [FilenameFrameSize]byte
	if err := readFrame(r, frame[:], "read filename frame"); err != nil {
		return "", err
	}
	return ParseFilenameFrame(frame[:]), nil
}

// ParseFilenameFrame extracts the filename from a frame: everything before
// the first '*', or the whole frame minus trailing NUL and whitespace when no
// '*' is present.
func ParseFilenameFrame(frame []byte) string {
	if i := bytes.IndexByte(frame, FilenameTerminator); i >= 0 {
		return string(frame[:i])
	}
	return string(bytes.TrimRight(frame, "\x00 \t\r\n"))
}

// ReadSizeFrame reads one 16-byte size frame.
//
// The END sentinel must appear inside the 16-byte window; a sender announcing
// a length with more than 13 digits cannot be represented.
func ReadSizeFrame(r io.Reader) (SizeFrame, error) {
	var frame [SizeFrameSize]byte
	if err := readFrame(r, frame[:], "read size frame"); err != nil {
		return SizeFrame{}, err
	}
	return ParseSizeFrame(frame[:])
}

// ParseSizeFrame parses a size frame. Leading is a copy and does not alias frame.
func ParseSizeFrame(frame []byte) (SizeFrame, error) {
	const op = "parse size frame"

	end := bytes.Index(frame, []byte(SizeTerminator))
	if end < 0 {
		return SizeFrame{}, ProtocolErrorf(op, "no %s sentinel in %q", SizeTerminator, frame)
	}

	digits := strings.Trim(string(frame[:end]), "\x00 \t\r\n")
	if digits == "" {
		return SizeFrame{}, ProtocolErrorf(op, "empty length before %s", SizeTerminator)
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return SizeFrame{}, ProtocolErrorf(op, "invalid length %q: %w", digits, err)
	}

	sf := SizeFrame{DeclaredLength: n}
	if rest := frame[end+len(SizeTerminator):]; len(rest) > 0 {
		sf.Leading = append([]byte(nil), rest...)
	}
	return sf, nil
}

// readFrame fills buf completely. A peer that closes mid-frame is a
// connection error, never a protocol error.
func readFrame(r io.Reader, buf []byte, op string) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ConnectionError(op, fmt.Errorf("short read: got %d of %d bytes: %w", n, len(buf), err))
	}
	return ConnectionError(op, err)
}
