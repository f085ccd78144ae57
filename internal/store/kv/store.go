// Package kv implements store.Store on top of Pebble.
package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/zerofinancial/relay/internal/record"
	pebblestore "github.com/zerofinancial/relay/internal/storage/pebble"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/pkg/id"
)

// Store keeps records of one queue in a Pebble keyspace. Each mutation
// commits the record, its indexes and the count in one batch.
type Store struct {
	db    *pebblestore.DB
	queue string
	owned bool

	mu        sync.Mutex
	closeOnce sync.Once
}

var _ store.Store = (*Store)(nil)

// New returns a store over an existing database. Close leaves db open.
func New(db *pebblestore.DB, queue string) *Store {
	if queue == "" {
		queue = "default"
	}
	return &Store{db: db, queue: queue}
}

// Open opens a dedicated database at dir. Close closes it.
func Open(dir, queue string, fsync pebblestore.FsyncMode) (*Store, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: fsync})
	if err != nil {
		return nil, err
	}
	s := New(db, queue)
	s.owned = true
	return s, nil
}

// Close releases the database when the store owns it.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.owned {
			err = s.db.Close()
		}
	})
	return err
}

func (s *Store) Insert(ctx context.Context, rec record.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(rec.ID); err == nil {
		return fmt.Errorf("insert %s: %w", rec.ID, store.ErrExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	n, err := s.count()
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putRecord(b, rec); err != nil {
		return err
	}
	if err := b.Set(createdKey(s.queue, rec.CreatedAt.UnixMilli(), rec.ID), nil, nil); err != nil {
		return err
	}
	if err := s.putCount(b, n+1); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

func (s *Store) Get(_ context.Context, recID id.ID) (record.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(recID)
}

func (s *Store) SetTask(ctx context.Context, recID id.ID, taskID string) (record.LogRecord, error) {
	return s.update(ctx, recID, func(r *record.LogRecord) { r.TaskID = taskID })
}

func (s *Store) RecordFailure(ctx context.Context, recID id.ID) (record.LogRecord, error) {
	return s.update(ctx, recID, func(r *record.LogRecord) {
		r.TaskID = ""
		r.RetryCount++
	})
}

// update applies fn to a stored record and keeps the task index in step.
func (s *Store) update(ctx context.Context, recID id.ID, fn func(*record.LogRecord)) (record.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(recID)
	if err != nil {
		return record.LogRecord{}, err
	}
	prevTask := rec.TaskID
	fn(&rec)

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putRecord(b, rec); err != nil {
		return record.LogRecord{}, err
	}
	if prevTask != rec.TaskID {
		if prevTask != "" {
			if err := b.Delete(taskKey(s.queue, prevTask), nil); err != nil {
				return record.LogRecord{}, err
			}
		}
		if rec.TaskID != "" {
			if err := b.Set(taskKey(s.queue, rec.TaskID), rec.ID[:], nil); err != nil {
				return record.LogRecord{}, err
			}
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return record.LogRecord{}, err
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, recID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(recID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	n, err := s.count()
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(recKey(s.queue, rec.ID), nil); err != nil {
		return err
	}
	if err := b.Delete(createdKey(s.queue, rec.CreatedAt.UnixMilli(), rec.ID), nil); err != nil {
		return err
	}
	if rec.TaskID != "" {
		if err := b.Delete(taskKey(s.queue, rec.TaskID), nil); err != nil {
			return err
		}
	}
	if n > 0 {
		n--
	}
	if err := s.putCount(b, n); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.DeletePrefix(ctx, []byte(queuePrefix(s.queue)))
}

func (s *Store) Pending(_ context.Context) ([]record.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.LogRecord
	err := s.db.ScanPrefix(createdPrefix(s.queue), func(k, _ []byte) error {
		rec, err := s.loadIndexed(k)
		if err != nil {
			return err
		}
		if rec.Pending() {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *Store) Submitted(_ context.Context) ([]record.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.LogRecord
	err := s.db.ScanPrefix(taskPrefix(s.queue), func(_, v []byte) error {
		recID, err := id.FromBytes(v)
		if err != nil {
			return err
		}
		rec, err := s.load(recID)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count()
}

func (s *Store) Oldest(_ context.Context) (record.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rec   record.LogRecord
		found bool
	)
	err := s.db.ScanPrefix(createdPrefix(s.queue), func(k, _ []byte) error {
		r, err := s.loadIndexed(k)
		if err != nil {
			return err
		}
		rec, found = r, true
		return pebblestore.ErrStopScan
	})
	if err != nil {
		return record.LogRecord{}, err
	}
	if !found {
		return record.LogRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) load(recID id.ID) (record.LogRecord, error) {
	v, err := s.db.Get(recKey(s.queue, recID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return record.LogRecord{}, fmt.Errorf("%s: %w", recID, store.ErrNotFound)
	}
	if err != nil {
		return record.LogRecord{}, err
	}
	rec, err := record.Decode(v)
	if err != nil {
		return record.LogRecord{}, fmt.Errorf("decode %s: %w", recID, err)
	}
	return rec, nil
}

func (s *Store) loadIndexed(key []byte) (record.LogRecord, error) {
	recID, err := idFromIndexKey(key)
	if err != nil {
		return record.LogRecord{}, err
	}
	return s.load(recID)
}

func (s *Store) putRecord(b *pebble.Batch, rec record.LogRecord) error {
	v, err := record.Encode(rec)
	if err != nil {
		return err
	}
	return b.Set(recKey(s.queue, rec.ID), v, nil)
}

func (s *Store) count() (int, error) {
	v, err := s.db.Get(metaCountKey(s.queue))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("kv: malformed count for queue %s", s.queue)
	}
	return int(binary.BigEndian.Uint64(v)), nil
}

func (s *Store) putCount(b *pebble.Batch, n int) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return b.Set(metaCountKey(s.queue), buf[:], nil)
}
