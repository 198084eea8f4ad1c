package subject

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned for subject codes without a directory.
var ErrNotFound = errors.New("subject not found")

// Store is the storage root holding one directory per subject code.
type Store struct {
	root  string
	locks LockTable
	now   func() time.Time
}

// NewStore opens (creating if needed) the storage root.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", abs, err)
	}
	return &Store{root: abs, now: time.Now}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string { return s.root }

// SetClock replaces the time source used for journal entries.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// Open prepares the directory for code and opens its journal for the
// duration of one connection.
//
// When the directory did not exist it is created together with a journal
// holding only the header row; an existing directory's journal is opened for
// append. Both happen under the subject lock, so a concurrent connection
// never sees a journal without its header.
func (s *Store) Open(code string) (*Subject, error) {
	if !ValidCode(code) {
		return nil, fmt.Errorf("invalid subject code %q", code)
	}
	dir := filepath.Join(s.root, code)

	unlock := s.locks.Lock(code)
	defer unlock()

	created := true
	if err := os.Mkdir(dir, 0755); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create subject directory %q: %w", dir, err)
		}
		fi, serr := os.Stat(dir)
		if serr != nil {
			return nil, fmt.Errorf("stat subject directory %q: %w", dir, serr)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("subject path %q exists and is not a directory", dir)
		}
		created = false
	}

	logPath := filepath.Join(dir, LogFileName)
	log, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open subject log %q: %w", logPath, err)
	}
	if created {
		if _, err := io.WriteString(log, LogHeader+"\n"); err != nil {
			_ = log.Close()
			return nil, fmt.Errorf("write subject log header %q: %w", logPath, err)
		}
	}

	return &Subject{
		Code:    code,
		Dir:     dir,
		Created: created,
		store:   s,
		log:     log,
	}, nil
}

// Subject is an open subject directory. It is owned by a single connection.
type Subject struct {
	Code    string
	Dir     string
	Created bool // the directory was created by Open

	store *Store
	log   *os.File
}

// CreatePrimary creates the slot 0 file for name, choosing a free name
// through Resolve. It returns the file and its base name.
func (sub *Subject) CreatePrimary(name string) (*os.File, string, error) {
	f, path, err := CreateExclusive(filepath.Join(sub.Dir, name))
	if err != nil {
		return nil, "", fmt.Errorf("create %q in subject %s: %w", name, sub.Code, err)
	}
	return f, filepath.Base(path), nil
}

// CreateCompanion creates the slot 1 file for a stored slot 0 file. An
// existing file with the companion name is truncated.
func (sub *Subject) CreateCompanion(primary string) (*os.File, string, error) {
	name := CompanionName(primary)
	if name == "" {
		f, path, err := CreateExclusive(filepath.Join(sub.Dir, primary))
		if err != nil {
			return nil, "", fmt.Errorf("create companion of %q in subject %s: %w", primary, sub.Code, err)
		}
		return f, filepath.Base(path), nil
	}

	path := filepath.Join(sub.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("create companion %q in subject %s: %w", name, sub.Code, err)
	}
	return f, name, nil
}

// RelPath returns the storage-root relative path of a file in this subject,
// as recorded in the journal.
func (sub *Subject) RelPath(name string) string {
	return filepath.ToSlash(filepath.Join(sub.Code, name))
}

// Append writes one journal row. Only the append holds the subject lock.
func (sub *Subject) Append(e Entry) error {
	unlock := sub.store.locks.Lock(sub.Code)
	defer unlock()

	w := csv.NewWriter(sub.log)
	if err := w.Write(e.record()); err != nil {
		return fmt.Errorf("append to subject log %s: %w", sub.Code, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append to subject log %s: %w", sub.Code, err)
	}
	return nil
}

// Close closes the journal.
func (sub *Subject) Close() error {
	return sub.log.Close()
}

// Summary describes a subject directory.
type Summary struct {
	Code       string    `json:"code"`
	Files      int       `json:"files"`
	Bytes      int64     `json:"bytes"`
	Entries    int       `json:"entries"`
	LastUpload time.Time `json:"last_upload,omitzero"`
}

// ListSubjects returns a summary for every subject directory, sorted by code.
func (s *Store) ListSubjects() ([]Summary, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	var out []Summary
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		sum, err := s.Summarize(d.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ValidCode reports whether code can name a subject directory.
func ValidCode(code string) bool {
	return code != "" && !strings.HasPrefix(code, ".") && !strings.ContainsAny(code, "/\\\x00")
}

// Summarize builds the summary of one subject. Directories without a journal
// are not subjects.
func (s *Store) Summarize(code string) (Summary, error) {
	if !ValidCode(code) {
		return Summary{}, fmt.Errorf("%w: %q", ErrNotFound, code)
	}
	dir := filepath.Join(s.root, code)
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, code)
		}
		return Summary{}, fmt.Errorf("read subject %s: %w", code, err)
	}

	sum := Summary{Code: code}
	hasLog := false
	for _, d := range dirents {
		if d.Name() == LogFileName {
			hasLog = true
			continue
		}
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		sum.Files++
		sum.Bytes += info.Size()
	}
	if !hasLog {
		return Summary{}, fmt.Errorf("%w: %s has no %s", ErrNotFound, code, LogFileName)
	}

	entries, err := s.ReadLog(code)
	if err != nil {
		return Summary{}, err
	}
	sum.Entries = len(entries)
	if n := len(entries); n > 0 {
		sum.LastUpload = entries[n-1].Time
	}
	return sum, nil
}

// ReadLog parses a subject's journal. The header row and malformed rows are
// skipped.
func (s *Store) ReadLog(code string) ([]Entry, error) {
	if !ValidCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, code)
	}
	path := s.LogPath(code)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
		}
		return nil, fmt.Errorf("open subject log %s: %w", code, err)
	}
	defer func() { _ = f.Close() }()

	out, err := DecodeLog(f)
	if err != nil {
		return nil, fmt.Errorf("read subject log %s: %w", code, err)
	}
	return out, nil
}

// DecodeLog parses journal rows from r, skipping the header row and
// malformed rows.
func DecodeLog(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var out []Entry
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return nil, err
		}
		if len(rec) > 0 && rec[0] == "Subcode" {
			continue
		}
		if e, ok := parseRecord(rec); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// LogPath returns the journal path for code.
func (s *Store) LogPath(code string) string {
	return filepath.Join(s.root, code, LogFileName)
}
