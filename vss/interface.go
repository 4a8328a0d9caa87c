package vss

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrStaleVersion is returned when the remote store rejects a write
	// because the submitted version is not strictly greater than the
	// version it has stored for the key. Callers retrying blindly must
	// treat this as success: the remote already holds newer state.
	ErrStaleVersion = errors.New("write version not newer than remote " +
		"stored version")

	// ErrObjectNotFound is returned when the remote store holds no object
	// under the requested key.
	ErrObjectNotFound = errors.New("object not found in remote store")
)

// KeyValue is a single versioned object in the remote store.
type KeyValue struct {
	// Key the object is stored under.
	Key string `json:"key"`

	// Value is the JSON encoded object payload.
	Value json.RawMessage `json:"value"`

	// Version of the payload. The remote store only accepts writes whose
	// version is strictly greater than the version currently stored.
	Version uint32 `json:"version"`
}

// KeyVersion is a (key, version) pair reported by the remote store during
// enumeration.
type KeyVersion struct {
	// Key the object is stored under.
	Key string `json:"key"`

	// Version of the stored payload.
	Version uint32 `json:"version"`
}

// Client is the wire contract of the remote versioned store. The server
// enforces per-key monotonically increasing versions on write, which makes
// blind retries safe: a retry of an already applied write is rejected as
// stale instead of silently reverting newer state.
type Client interface {
	// PutObjects stores the given objects in bulk. The server must reject
	// (or safely ignore) any item whose version is not strictly greater
	// than its stored version, and partial application across a batch
	// must be tolerated by the caller.
	PutObjects(ctx context.Context, items []KeyValue) error

	// ListKeyVersions enumerates the (key, version) pairs stored under
	// the given prefix. An empty prefix lists the full store.
	ListKeyVersions(ctx context.Context, prefix string) ([]KeyVersion,
		error)

	// GetObject fetches a single object by key.
	GetObject(ctx context.Context, key string) (*KeyValue, error)
}
