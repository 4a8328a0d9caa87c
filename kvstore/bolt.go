package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"go.etcd.io/bbolt"
)

var (
	// valuesBucket holds the JSON encoded wallet records.
	valuesBucket = []byte("wallet-values")

	// versionsBucket holds the recorded write version for every key that
	// has been written with a version annotation, as big endian uint32.
	versionsBucket = []byte("wallet-versions")
)

// dbOpenTimeout is the amount of time we wait to acquire the database file
// lock before giving up.
const dbOpenTimeout = time.Second

// BoltStore is a bbolt backed implementation of the Store interface. It is
// the local durable cache of a node running against a real filesystem.
type BoltStore struct {
	db *bbolt.DB
}

// A compile time check to ensure BoltStore implements the Store interface.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (creating if necessary) the bolt database at the given
// path and ensures the wallet buckets exist.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: dbOpenTimeout,
	})
	if err != nil {
		return nil, WriteErr(err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(valuesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(versionsBucket)

		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, WriteErr(err)
	}

	log.Debugf("Opened wallet store at %v", path)

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Get reads the value stored under key into out.
//
// NOTE: this is part of the Store interface.
func (b *BoltStore) Get(key string, out any) error {
	var buf []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(valuesBucket).Get([]byte(key))
		if value != nil {
			buf = bytes.Clone(value)
		}

		return nil
	})
	if err != nil {
		return ReadErr(err)
	}

	if buf == nil {
		return ErrNotFound
	}

	return unmarshalValue(buf, out)
}

// GetAsync is the asynchronous form of Get. The embedded database completes
// reads synchronously, so this only adds context cancellation.
//
// NOTE: this is part of the Store interface.
func (b *BoltStore) GetAsync(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return ReadErr(err)
	}

	return b.Get(key, out)
}

// Set writes the JSON encoding of value under key.
//
// NOTE: this is part of the Store interface.
func (b *BoltStore) Set(key string, value any,
	version fn.Option[uint32]) error {

	buf, err := marshalValue(value)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		if version.IsSome() {
			newVersion := version.UnwrapOr(0)
			versions := tx.Bucket(versionsBucket)

			cur := versions.Get([]byte(key))
			if cur != nil &&
				binary.BigEndian.Uint32(cur) >= newVersion {

				return ErrVersionConflict
			}

			var verBuf [4]byte
			binary.BigEndian.PutUint32(verBuf[:], newVersion)
			err := versions.Put([]byte(key), verBuf[:])
			if err != nil {
				return err
			}
		}

		return tx.Bucket(valuesBucket).Put([]byte(key), buf)
	})
	switch {
	case err == nil:
		return nil

	case errors.Is(err, ErrVersionConflict):
		return err

	default:
		return WriteErr(err)
	}
}

// SetAsync is the asynchronous form of Set.
//
// NOTE: this is part of the Store interface.
func (b *BoltStore) SetAsync(ctx context.Context, key string, value any,
	version fn.Option[uint32]) error {

	if err := ctx.Err(); err != nil {
		return WriteErr(err)
	}

	return b.Set(key, value, version)
}

// Scan returns the raw values of all keys matching the prefix/suffix filter.
//
// NOTE: this is part of the Store interface.
func (b *BoltStore) Scan(prefix, suffix string) (map[string]json.RawMessage,
	error) {

	res := make(map[string]json.RawMessage)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(valuesBucket).Cursor()

		// Seek directly to the first key in the prefix range.
		search := []byte(prefix)
		for k, v := c.Seek(search); k != nil &&
			bytes.HasPrefix(k, search); k, v = c.Next() {

			if !matchesScan(string(k), prefix, suffix) {
				continue
			}

			res[string(k)] = json.RawMessage(bytes.Clone(v))
		}

		return nil
	})
	if err != nil {
		return nil, ReadErr(err)
	}

	return res, nil
}

// Delete removes the values stored under the given keys.
//
// NOTE: this is part of the Store interface.
func (b *BoltStore) Delete(keys ...string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		values := tx.Bucket(valuesBucket)
		versions := tx.Bucket(versionsBucket)

		for _, key := range keys {
			if err := values.Delete([]byte(key)); err != nil {
				return err
			}
			if err := versions.Delete([]byte(key)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return WriteErr(err)
	}

	return nil
}
