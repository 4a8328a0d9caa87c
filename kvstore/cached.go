package kvstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// CachedStore layers an in-memory cache over a durable backing store. Reads
// are always served from the cache, which the reconciliation pass seeds at
// startup. Writes go to the backing store first and only seed the cache once
// the durable write succeeded, so the cache never runs ahead of the durable
// copy. A failed durable write leaves the cache (and its version fence)
// untouched and can safely be retried.
type CachedStore struct {
	cache   *MemStore
	backing Store
}

// A compile time check to ensure CachedStore implements the Store interface.
var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps the given backing store with the provided cache. The
// cache is expected to already contain the reconciled state of the backing
// store.
func NewCachedStore(cache *MemStore, backing Store) *CachedStore {
	return &CachedStore{
		cache:   cache,
		backing: backing,
	}
}

// Get reads the value stored under key from the cache.
//
// NOTE: this is part of the Store interface.
func (c *CachedStore) Get(key string, out any) error {
	return c.cache.Get(key, out)
}

// GetAsync is the asynchronous form of Get.
//
// NOTE: this is part of the Store interface.
func (c *CachedStore) GetAsync(ctx context.Context, key string,
	out any) error {

	return c.cache.GetAsync(ctx, key, out)
}

// Set writes the value to the backing store first and seeds the cache only
// once the durable write succeeded. A version conflict in the cache after a
// successful durable write means a newer value is already cached, so it is
// not treated as an error.
//
// NOTE: this is part of the Store interface.
func (c *CachedStore) Set(key string, value any,
	version fn.Option[uint32]) error {

	if err := c.backing.Set(key, value, version); err != nil {
		return err
	}

	err := c.cache.Set(key, value, version)
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		return err
	}

	return nil
}

// SetAsync is the asynchronous form of Set.
//
// NOTE: this is part of the Store interface.
func (c *CachedStore) SetAsync(ctx context.Context, key string, value any,
	version fn.Option[uint32]) error {

	if err := c.backing.SetAsync(ctx, key, value, version); err != nil {
		return err
	}

	err := c.cache.SetAsync(ctx, key, value, version)
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		return err
	}

	return nil
}

// Scan returns the raw values of all cached keys matching the prefix/suffix
// filter.
//
// NOTE: this is part of the Store interface.
func (c *CachedStore) Scan(prefix, suffix string) (map[string]json.RawMessage,
	error) {

	return c.cache.Scan(prefix, suffix)
}

// Delete removes the values stored under the given keys from both layers,
// the backing store first.
//
// NOTE: this is part of the Store interface.
func (c *CachedStore) Delete(keys ...string) error {
	if err := c.backing.Delete(keys...); err != nil {
		return err
	}

	return c.cache.Delete(keys...)
}
