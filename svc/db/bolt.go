package db

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"pastekv/pkg/domain"
)

var pasteBucket = []byte("paste_data")

// ErrKeyExists is returned when Insert finds its key already present. Keys
// are time-derived, so a collision cannot be resolved by retrying under
// the same key; callers treat it as an internal fault.
var ErrKeyExists = errors.New("key already exists")

// ErrCorruptRecord marks a stored value that no longer deserializes.
var ErrCorruptRecord = errors.New("corrupt paste record")

// Table is the durable int64 -> paste mapping. bbolt gives it the
// transaction discipline the service is built around: one writer at a
// time, any number of snapshot readers.
type Table struct {
	db *bolt.DB
}

// Open opens (creating if absent) the store file and its paste_data
// bucket. The process must have exclusive ownership of the file.
func Open(path string) (*Table, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pasteBucket)
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, errors.Wrap(err, "create paste_data bucket")
	}
	return &Table{db: bdb}, nil
}

func (t *Table) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Ping verifies the store is still readable.
func (t *Table) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return t.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errors.New("paste_data bucket missing")
		}
		return nil
	})
}

// WriteTxn is an exclusive write transaction. Nothing it does is visible
// until Commit returns nil; a failed or rolled-back transaction leaves the
// table untouched.
type WriteTxn struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
}

func (t *Table) BeginWrite() (*WriteTxn, error) {
	tx, err := t.db.Begin(true)
	if err != nil {
		return nil, errors.Wrap(err, "begin write")
	}
	b := tx.Bucket(pasteBucket)
	if b == nil {
		_ = tx.Rollback()
		return nil, errors.New("paste_data bucket missing")
	}
	return &WriteTxn{tx: tx, bucket: b}, nil
}

func (w *WriteTxn) Insert(key int64, paste *domain.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	k := encodeKey(key)
	if w.bucket.Get(k) != nil {
		return ErrKeyExists
	}
	data, err := json.Marshal(paste)
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	return errors.Wrap(w.bucket.Put(k, data), "put paste")
}

// Remove deletes the record if present; removing an absent key is a no-op.
func (w *WriteTxn) Remove(key int64) error {
	return errors.Wrap(w.bucket.Delete(encodeKey(key)), "delete paste")
}

func (w *WriteTxn) Commit() error {
	return errors.Wrap(w.tx.Commit(), "commit")
}

func (w *WriteTxn) Rollback() error {
	return w.tx.Rollback()
}

// ReadTxn pins a point-in-time snapshot. Callers must Close it.
type ReadTxn struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
}

func (t *Table) BeginRead() (*ReadTxn, error) {
	tx, err := t.db.Begin(false)
	if err != nil {
		return nil, errors.Wrap(err, "begin read")
	}
	b := tx.Bucket(pasteBucket)
	if b == nil {
		_ = tx.Rollback()
		return nil, errors.New("paste_data bucket missing")
	}
	return &ReadTxn{tx: tx, bucket: b}, nil
}

// Get returns nil with no error when the key is absent. A value that fails
// to unmarshal is on-disk corruption, reported via ErrCorruptRecord.
func (r *ReadTxn) Get(key int64) (*domain.Paste, error) {
	raw := r.bucket.Get(encodeKey(key))
	if raw == nil {
		return nil, nil
	}
	var p domain.Paste
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrapf(ErrCorruptRecord, "key %d: %v", key, err)
	}
	return &p, nil
}

func (r *ReadTxn) Close() error {
	return r.tx.Rollback()
}

// Get is the one-shot read path used by fetch.
func (t *Table) Get(ctx context.Context, key int64) (*domain.Paste, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	r, err := t.BeginRead()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Get(key)
}

// ScanExpiring walks every record once, reporting those that carry an
// expiry. This is the startup rebuild path and the only full-table scan
// in the system.
func (t *Table) ScanExpiring(fn func(key int64, expireAt time.Time)) error {
	return t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pasteBucket)
		if b == nil {
			return errors.New("paste_data bucket missing")
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return errors.Wrapf(ErrCorruptRecord, "key length %d", len(k))
			}
			var p domain.Paste
			if err := json.Unmarshal(v, &p); err != nil {
				return errors.Wrapf(ErrCorruptRecord, "key %d: %v", decodeKey(k), err)
			}
			if p.ExpireAt != nil {
				fn(decodeKey(k), *p.ExpireAt)
			}
			return nil
		})
	})
}

// Count reports the number of stored records; it exists for tests and
// readiness detail, not the hot path.
func (t *Table) Count() (int, error) {
	var n int
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pasteBucket)
		if b == nil {
			return errors.New("paste_data bucket missing")
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

func encodeKey(key int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(key))
	return b
}

func decodeKey(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
