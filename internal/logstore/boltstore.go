// Package logstore is an on-disk implementation of raftlog.Source backed
// by go.etcd.io/bbolt, suitable for a single-node log and snapshot
// manifest store.
package logstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/yucl80/ratis/internal/raftlog"
)

var (
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")

	startIndexKey = []byte("start_index")
	snapshotKey   = []byte("snapshot")
)

// BoltStore implements raftlog.Source over a single bbolt database file.
// Entry payloads are snappy-compressed before being written and
// decompressed on read.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a BoltStore at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open bolt log store")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize bolt log store buckets")
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], index)
	return b[:]
}

type wireEntry struct {
	Term    uint64
	Index   uint64
	Payload []byte
}

// Append stores entries, compressing each payload. Callers are
// responsible for ensuring indices are contiguous and increasing; this
// store does not itself implement Raft's log-matching property.
func (s *BoltStore) Append(entries ...raftlog.Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		for _, e := range entries {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(wireEntry{
				Term:    e.Term,
				Index:   e.Index,
				Payload: snappy.Encode(nil, e.Payload),
			}); err != nil {
				return errors.Wrapf(err, "encode entry %d", e.Index)
			}
			if err := b.Put(indexKey(e.Index), buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetStartIndex records the first retained index, used after a log
// compaction drops entries below it.
func (s *BoltStore) SetStartIndex(index uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(startIndexKey, indexKey(index))
	})
}

// StartIndex implements raftlog.Source.
func (s *BoltStore) StartIndex() uint64 {
	var idx uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(startIndexKey)
		if len(v) == 8 {
			idx = binary.BigEndian.Uint64(v)
		} else {
			idx = 1
		}
		return nil
	})
	return idx
}

// NextIndex implements raftlog.Source: one past the highest stored index,
// or StartIndex() if the log is empty.
func (s *BoltStore) NextIndex() uint64 {
	var next uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		k, _ := c.Last()
		if k == nil {
			next = s.startIndexLocked(tx)
			return nil
		}
		next = binary.BigEndian.Uint64(k) + 1
		return nil
	})
	return next
}

func (s *BoltStore) startIndexLocked(tx *bbolt.Tx) uint64 {
	v := tx.Bucket(metaBucket).Get(startIndexKey)
	if len(v) == 8 {
		return binary.BigEndian.Uint64(v)
	}
	return 1
}

func decodeEntry(v []byte) (raftlog.Entry, error) {
	var w wireEntry
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&w); err != nil {
		return raftlog.Entry{}, err
	}
	payload, err := snappy.Decode(nil, w.Payload)
	if err != nil {
		return raftlog.Entry{}, errors.Wrap(err, "decompress entry payload")
	}
	return raftlog.Entry{Term: w.Term, Index: w.Index, Payload: payload}, nil
}

// Get implements raftlog.Source.
func (s *BoltStore) Get(index uint64) (raftlog.Entry, bool) {
	var (
		entry raftlog.Entry
		found bool
	)
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get(indexKey(index))
		if v == nil {
			return nil
		}
		e, err := decodeEntry(v)
		if err != nil {
			return err
		}
		entry, found = e, true
		return nil
	})
	return entry, found
}

// GetRange implements raftlog.Source, returning the contiguous half-open
// range [lo, hi).
func (s *BoltStore) GetRange(lo, hi uint64) ([]raftlog.Entry, error) {
	if hi < lo {
		return nil, errors.Errorf("invalid range [%d, %d)", lo, hi)
	}
	out := make([]raftlog.Entry, 0, hi-lo)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		for i := lo; i < hi; i++ {
			v := b.Get(indexKey(i))
			if v == nil {
				return errors.Errorf("missing entry at index %d in range [%d, %d)", i, lo, hi)
			}
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetSnapshot records the latest snapshot manifest.
func (s *BoltStore) SetSnapshot(snap raftlog.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot manifest")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(snapshotKey, b)
	})
}

// LatestSnapshot implements raftlog.Source.
func (s *BoltStore) LatestSnapshot() (raftlog.Snapshot, bool) {
	var (
		snap  raftlog.Snapshot
		found bool
	)
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(snapshotKey)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &snap); err != nil {
			return err
		}
		found = true
		return nil
	})
	return snap, found
}
