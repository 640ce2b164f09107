package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"actlog/internal/activity"
)

// pebbleSchemaVersion is bumped whenever the key layout or row encoding changes.
const pebbleSchemaVersion = 1

var (
	keyVersion = []byte("meta/version")
	prefixID   = []byte("id/")
	prefixLog  = []byte("log/")
)

// PebbleStore persists activity in a Pebble key-value store. Rows live under
// log/<seq> as JSON and an id/<activity id> index enforces uniqueness.
type PebbleStore struct {
	db     *pebble.DB
	dir    string
	mu     sync.Mutex // serializes sequence allocation and duplicate checks
	seq    uint64
	closed atomic.Bool
}

var _ Backend = (*PebbleStore)(nil)

// OpenPebble opens or creates the Pebble database in dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("pebble: directory is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	store := &PebbleStore{db: db, dir: dir}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	seq, err := store.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.seq = seq
	return store, nil
}

// Path returns the database directory.
func (s *PebbleStore) Path() string { return s.dir }

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *PebbleStore) initSchema() error {
	value, closer, err := s.db.Get(keyVersion)
	if errors.Is(err, pebble.ErrNotFound) {
		return s.db.Set(keyVersion, []byte(strconv.Itoa(pebbleSchemaVersion)), pebble.Sync)
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	defer closer.Close()

	version, err := strconv.Atoi(string(value))
	if err != nil {
		return fmt.Errorf("%w: unreadable version %q", ErrSchemaMismatch, value)
	}
	if version != pebbleSchemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (move %s aside to start fresh)",
			ErrSchemaMismatch, version, pebbleSchemaVersion, s.dir)
	}
	return nil
}

func (s *PebbleStore) lastSeq() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixLog, UpperBound: prefixEnd(prefixLog)})
	if err != nil {
		return 0, fmt.Errorf("open log iterator: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return decodeSeq(iter.Key()), nil
}

// InsertBatch commits all new records and their id index entries in one
// synced batch. Without SkipDuplicates any existing id fails the whole batch
// with ErrDuplicate.
func (s *PebbleStore) InsertBatch(ctx context.Context, records []activity.Record, opts InsertOptions) (int64, error) {
	ctx = ensureContext(ctx)
	if s.closed.Load() {
		return 0, unavailable("insert batch", ErrClosed)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	seq := s.seq
	seen := make(map[string]struct{}, len(records))
	var inserted int64
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return 0, unavailable("insert batch", err)
		}
		_, dup := seen[rec.ID]
		if !dup {
			exists, err := s.hasID(rec.ID)
			if err != nil {
				return 0, unavailable("insert batch", err)
			}
			dup = exists
		}
		if dup {
			if opts.SkipDuplicates {
				continue
			}
			return 0, &Error{Kind: KindValidation, Op: "insert batch", Err: fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)}
		}
		seen[rec.ID] = struct{}{}

		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, &Error{Kind: KindValidation, Op: "insert batch", Err: fmt.Errorf("encode record %s: %w", rec.ID, err)}
		}
		seq++
		key := logKey(seq)
		if err := batch.Set(key, payload, nil); err != nil {
			return 0, unavailable("insert batch", err)
		}
		if err := batch.Set(idKey(rec.ID), key[len(prefixLog):], nil); err != nil {
			return 0, unavailable("insert batch", err)
		}
		inserted++
	}

	if inserted == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, unavailable("insert batch", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, unavailable("insert batch", err)
	}
	s.seq = seq
	return inserted, nil
}

func (s *PebbleStore) hasID(id string) (bool, error) {
	_, closer, err := s.db.Get(idKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

// List scans the log keys in sequence order and applies filter.
func (s *PebbleStore) List(ctx context.Context, filter Filter) ([]activity.Record, error) {
	ctx = ensureContext(ctx)
	if s.closed.Load() {
		return nil, unavailable("list activity", ErrClosed)
	}
	var records []activity.Record
	err := s.scan(ctx, filter.Newest, func(rec activity.Record) bool {
		if !matches(rec, filter) {
			return true
		}
		records = append(records, rec)
		return filter.Limit <= 0 || len(records) < filter.Limit
	})
	if err != nil {
		return nil, unavailable("list activity", err)
	}
	return records, nil
}

// Stats scans every stored record.
func (s *PebbleStore) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{ByAction: make(map[activity.Action]int64)}
	if s.closed.Load() {
		return stats, unavailable("activity stats", ErrClosed)
	}
	err := s.scan(ctx, false, func(rec activity.Record) bool {
		stats.Total++
		stats.ByAction[rec.Action]++
		if !rec.Success {
			stats.Failures++
		}
		if rec.CreatedAt.After(stats.LastRecorded) {
			stats.LastRecorded = rec.CreatedAt
		}
		return true
	})
	if err != nil {
		return stats, unavailable("activity stats", err)
	}
	return stats, nil
}

// CheckHealth verifies the directory, schema version, and that every row
// decodes.
func (s *PebbleStore) CheckHealth(ctx context.Context) (Health, error) {
	ctx = ensureContext(ctx)
	health := Health{Backend: "pebble", Path: s.dir, SchemaVersion: pebbleSchemaVersion}

	info, err := os.Stat(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat activity database: %w", err)
	}
	if !info.IsDir() {
		return health, fmt.Errorf("activity database path %q is not a directory", s.dir)
	}
	health.Exists = true
	if s.closed.Load() {
		health.Error = ErrClosed.Error()
		return health, ErrClosed
	}
	if err := s.initSchema(); err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.Readable = true

	corrupt := 0
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixLog, UpperBound: prefixEnd(prefixLog)})
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("open log iterator: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			health.Error = err.Error()
			return health, err
		}
		health.Records++
		if !json.Valid(iter.Value()) {
			corrupt++
		}
	}
	if err := iter.Error(); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("scan activity: %w", err)
	}
	health.IntegrityOK = corrupt == 0
	if corrupt > 0 {
		health.Error = fmt.Sprintf("%d undecodable rows", corrupt)
	}
	return health, nil
}

func (s *PebbleStore) scan(ctx context.Context, reverse bool, fn func(activity.Record) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixLog, UpperBound: prefixEnd(prefixLog)})
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First()
	step := iter.Next
	if reverse {
		valid = iter.Last()
		step = iter.Prev
	}
	for ; valid; valid = step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec activity.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode row %d: %w", decodeSeq(iter.Key()), err)
		}
		if !fn(rec) {
			break
		}
	}
	return iter.Error()
}

func logKey(seq uint64) []byte {
	key := make([]byte, len(prefixLog)+8)
	copy(key, prefixLog)
	binary.BigEndian.PutUint64(key[len(prefixLog):], seq)
	return key
}

func decodeSeq(key []byte) uint64 {
	if len(key) < len(prefixLog)+8 || !bytes.HasPrefix(key, prefixLog) {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(prefixLog):])
}

func idKey(id string) []byte {
	return append(append([]byte(nil), prefixID...), id...)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
