// Package catalog indexes stored uploads in BadgerDB so subjects and their
// history can be queried without scanning the storage tree.
//
// Storage model:
//   - upload:{subject}:{unix-nano, 20 digits}:{id} -> JSON(Record)
//   - subject:{subject}                            -> JSON(Subject)
//
// The zero-padded timestamp keeps a subject's uploads in arrival order under
// a single prefix.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/pebld/pkg/metrics"
)

const (
	prefixUpload  = "upload:"
	prefixSubject = "subject:"
)

// maxConflictRetries bounds retries of a subject aggregate update that lost
// an optimistic transaction race.
const maxConflictRetries = 50

// ErrNotFound is returned for unknown subjects.
var ErrNotFound = errors.New("catalog: not found")

// Record is one stored upload slot.
type Record struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Time         time.Time `json:"time"`
	Slot         int       `json:"slot"`
	File         string    `json:"file"`   // journal File column (slot 0 path)
	Stored       string    `json:"stored"` // path this slot was written to
	Address      string    `json:"address"`
	Bytes        uint64    `json:"bytes"`
	Terminator   string    `json:"terminator"`
	ConnectionID string    `json:"connection_id,omitempty"`
}

// Subject aggregates a subject's records.
type Subject struct {
	Code      string    `json:"code"`
	Uploads   int       `json:"uploads"`
	Bytes     uint64    `json:"bytes"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Catalog is a BadgerDB-backed upload index. Safe for concurrent use.
type Catalog struct {
	db      *badgerdb.DB
	metrics metrics.CatalogMetrics
}

// Open opens (creating if needed) a catalog at path.
func Open(path string, m metrics.CatalogMetrics) (*Catalog, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open catalog at %s: %w", path, err)
	}
	return &Catalog{db: db, metrics: m}, nil
}

// OpenInMemory opens a catalog that lives only in memory.
func OpenInMemory(m metrics.CatalogMetrics) (*Catalog, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory catalog: %w", err)
	}
	return &Catalog{db: db, metrics: m}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func uploadPrefix(subject string) []byte {
	return []byte(prefixUpload + subject + ":")
}

func uploadKey(r *Record) []byte {
	return fmt.Appendf(nil, "%s%s:%020d:%s", prefixUpload, r.Subject, r.Time.UnixNano(), r.ID)
}

// Add stores r and updates its subject's aggregate in one transaction. An
// empty ID is filled with a new UUID and a zero Time with the current time.
func (c *Catalog) Add(ctx context.Context, r Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if r.Subject == "" {
		return Record{}, errors.New("catalog: record without subject")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	var err error
	for range maxConflictRetries {
		err = c.db.Update(func(txn *badgerdb.Txn) error { return addTx(txn, &r) })
		if !errors.Is(err, badgerdb.ErrConflict) {
			break
		}
	}
	c.record("add", err)
	if err != nil {
		return Record{}, fmt.Errorf("catalog add: %w", err)
	}
	return r, nil
}

// addTx writes the record and folds it into the subject aggregate.
func addTx(txn *badgerdb.Txn, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := txn.Set(uploadKey(r), data); err != nil {
		return err
	}

	subj, err := getSubjectTx(txn, r.Subject)
	if errors.Is(err, ErrNotFound) {
		subj = &Subject{Code: r.Subject, FirstSeen: r.Time}
	} else if err != nil {
		return err
	}
	subj.Uploads++
	subj.Bytes += r.Bytes
	if r.Time.After(subj.LastSeen) {
		subj.LastSeen = r.Time
	}
	if r.Time.Before(subj.FirstSeen) {
		subj.FirstSeen = r.Time
	}

	data, err = json.Marshal(subj)
	if err != nil {
		return fmt.Errorf("marshal subject: %w", err)
	}
	return txn.Set([]byte(prefixSubject+r.Subject), data)
}

func getSubjectTx(txn *badgerdb.Txn, code string) (*Subject, error) {
	item, err := txn.Get([]byte(prefixSubject + code))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var s Subject
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal subject %s: %w", code, err)
	}
	return &s, nil
}

// GetSubject returns the aggregate for code.
func (c *Catalog) GetSubject(ctx context.Context, code string) (*Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s *Subject
	err := c.db.View(func(txn *badgerdb.Txn) error {
		var err error
		s, err = getSubjectTx(txn, code)
		return err
	})
	c.record("get_subject", err)
	return s, err
}

// ListSubjects returns every subject ordered by code.
func (c *Catalog) ListSubjects(ctx context.Context) ([]Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Subject
	err := c.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSubject)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var s Subject
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return fmt.Errorf("unmarshal subject %s: %w", it.Item().Key(), err)
			}
			out = append(out, s)
		}
		return nil
	})
	c.record("list_subjects", err)
	return out, err
}

// Records returns up to limit records of subject, newest first. limit <= 0
// returns all of them.
func (c *Catalog) Records(ctx context.Context, subject string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := uploadPrefix(subject)
	var out []Record
	err := c.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek.
		seek := append(append([]byte(nil), prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", it.Item().Key(), err)
			}
			if r.Subject != subject {
				// A code containing ':' shares this prefix.
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	c.record("records", err)
	return out, err
}

// Healthcheck verifies the database can serve a read transaction.
func (c *Catalog) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("catalog healthcheck failed: %w", err)
	}
	return nil
}

// PublishStats periodically pushes badger cache statistics to the metrics
// recorder until ctx is cancelled. It returns immediately without metrics.
func (c *Catalog) PublishStats(ctx context.Context, interval time.Duration) {
	if c.metrics == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStats()
		}
	}
}

func (c *Catalog) publishStats() {
	if bm := c.db.BlockCacheMetrics(); bm != nil {
		c.metrics.RecordCacheStats("block", bm.Hits(), bm.Misses(), bm.Ratio())
	}
	if im := c.db.IndexCacheMetrics(); im != nil {
		c.metrics.RecordCacheStats("index", im.Hits(), im.Misses(), im.Ratio())
	}
}

func (c *Catalog) record(op string, err error) {
	if c.metrics != nil {
		c.metrics.RecordOperation(op, err)
	}
}
