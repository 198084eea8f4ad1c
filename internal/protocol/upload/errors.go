package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Kind classifies why a submission failed.
type Kind int

const (
	KindUnknown Kind = iota

	// KindProtocol: the client sent a malformed frame.
	KindProtocol

	// KindConnection: the peer went away or a read failed or timed out.
	KindConnection

	// KindFilesystem: creating a directory or writing a file failed.
	KindFilesystem
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindConnection:
		return "connection"
	case KindFilesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every operation in this package.
// All kinds are fatal to the connection they occur on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrProtocol) works on any
// wrapped *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrConnection = &Error{Kind: KindConnection}
	ErrFilesystem = &Error{Kind: KindFilesystem}
)

// ProtocolErrorf builds a KindProtocol error.
func ProtocolErrorf(op, format string, args ...any) error {
	return &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf(format, args...)}
}

// ConnectionError wraps err as a KindConnection error.
func ConnectionError(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

// FilesystemError wraps err as a KindFilesystem error.
func FilesystemError(op string, err error) error {
	return &Error{Kind: KindFilesystem, Op: op, Err: err}
}

// KindOf reports the kind of err. Errors not produced by this package are
// classified by shape: network and EOF errors are connection failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}

	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return KindConnection
	case errors.As(err, &ne):
		return KindConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindConnection
	}
	return KindUnknown
}

// IsTimeout reports whether err comes from an expired read deadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
