package upload

import (
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Request is a parsed filename frame.
type Request struct {
	// Raw is the filename frame as received.
	Raw []byte

	// Filename is the name the client asked for.
	Filename string

	// SubjectCode groups uploads into one directory: the filename up to its
	// first '_'.
	SubjectCode string
}

// ReadRequest reads the filename frame and validates the name it carries.
func ReadRequest(r io.Reader) (*Request, error) {
	raw := make([]byte, FilenameFrameSize)
	if err := readFrame(r, raw, "read filename frame"); err != nil {
		return nil, err
	}
	return ParseRequest(raw)
}

// ParseRequest parses and validates a filename frame.
func ParseRequest(raw []byte) (*Request, error) {
	name := ParseFilenameFrame(raw)
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}

	code := SubjectCode(name)
	if code == "" || strings.HasPrefix(code, ".") {
		return nil, ProtocolErrorf("parse filename", "no usable subject code in %q", name)
	}

	return &Request{Raw: raw, Filename: name, SubjectCode: code}, nil
}

// ValidateFilename rejects names that would escape the subject directory or
// cannot be stored:
//   - empty names, "." and ".."
//   - path separators or NUL bytes
//   - invalid UTF-8
func ValidateFilename(name string) error {
	const op = "validate filename"

	switch {
	case name == "", name == ".", name == "..":
		return ProtocolErrorf(op, "invalid filename %q", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return ProtocolErrorf(op, "filename %q contains a path separator or NUL", name)
	case strings.Contains(name, ".."):
		return ProtocolErrorf(op, "filename %q contains a parent reference", name)
	case !utf8.ValidString(name):
		return ProtocolErrorf(op, "filename %q is not valid UTF-8", name)
	}
	return nil
}

// SubjectCode returns the part of name before its first '_'. A name without
// '_' uses its stem (the name minus its last extension).
func SubjectCode(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
