package kvstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MemStore is an in-memory implementation of the Store interface. It backs
// the wallet's state cache and is the primary store in tests.
//
// The map is guarded by a single reader/writer lock acquired with try-lock
// semantics only: in a cooperatively scheduled environment a contended lock
// means a re-entrant call, so we fail fast with ErrStoreBusy instead of
// deadlocking.
type MemStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	versions map[string]uint32
}

// A compile time check to ensure MemStore implements the Store interface.
var _ Store = (*MemStore)(nil)

// NewMemStore creates a new empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		values:   make(map[string][]byte),
		versions: make(map[string]uint32),
	}
}

// Get reads the value stored under key into out.
//
// NOTE: this is part of the Store interface.
func (m *MemStore) Get(key string, out any) error {
	if !m.mu.TryRLock() {
		return ReadErr(ErrStoreBusy)
	}
	buf, ok := m.values[key]
	m.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}

	return unmarshalValue(buf, out)
}

// GetAsync is the asynchronous form of Get.
//
// NOTE: this is part of the Store interface.
func (m *MemStore) GetAsync(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return ReadErr(err)
	}

	return m.Get(key, out)
}

// Set writes the JSON encoding of value under key.
//
// NOTE: this is part of the Store interface.
func (m *MemStore) Set(key string, value any,
	version fn.Option[uint32]) error {

	buf, err := marshalValue(value)
	if err != nil {
		return err
	}

	if !m.mu.TryLock() {
		return WriteErr(ErrStoreBusy)
	}
	defer m.mu.Unlock()

	if version.IsSome() {
		newVersion := version.UnwrapOr(0)
		if cur, ok := m.versions[key]; ok && cur >= newVersion {
			return ErrVersionConflict
		}
		m.versions[key] = newVersion
	}

	m.values[key] = buf

	return nil
}

// SetAsync is the asynchronous form of Set.
//
// NOTE: this is part of the Store interface.
func (m *MemStore) SetAsync(ctx context.Context, key string, value any,
	version fn.Option[uint32]) error {

	if err := ctx.Err(); err != nil {
		return WriteErr(err)
	}

	return m.Set(key, value, version)
}

// Scan returns the raw values of all keys matching the prefix/suffix filter.
//
// NOTE: this is part of the Store interface.
func (m *MemStore) Scan(prefix, suffix string) (map[string]json.RawMessage,
	error) {

	if !m.mu.TryRLock() {
		return nil, ReadErr(ErrStoreBusy)
	}
	defer m.mu.RUnlock()

	res := make(map[string]json.RawMessage)
	for key, buf := range m.values {
		if !matchesScan(key, prefix, suffix) {
			continue
		}

		value := make(json.RawMessage, len(buf))
		copy(value, buf)
		res[key] = value
	}

	return res, nil
}

// Delete removes the values stored under the given keys.
//
// NOTE: this is part of the Store interface.
func (m *MemStore) Delete(keys ...string) error {
	if !m.mu.TryLock() {
		return WriteErr(ErrStoreBusy)
	}
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.versions, key)
	}

	return nil
}
