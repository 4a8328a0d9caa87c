package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNotFound is returned when no value is stored under the requested
	// key. It is not a failure for reads of optional records.
	ErrNotFound = errors.New("no value found for key")

	// ErrStoreBusy is returned when the store's lock is contended. Lock
	// acquisition never blocks, so a contended lock surfaces immediately
	// instead of stalling the caller.
	ErrStoreBusy = errors.New("storage lock is contended")

	// ErrCorruptValue is returned when a stored value cannot be
	// deserialized into the requested type. This signals corruption or a
	// format mismatch and is fatal for the record in question.
	ErrCorruptValue = errors.New("stored value cannot be deserialized")

	// ErrVersionConflict is returned when a versioned write carries a
	// version that is not strictly greater than the version already
	// recorded for the key. The newer stored value is kept untouched.
	ErrVersionConflict = errors.New("write version is not newer than " +
		"stored version")
)

// ReadErr wraps a transient failure on the read path.
func ReadErr(err error) error {
	return &storageError{op: "read", err: err}
}

// WriteErr wraps a transient failure on the write path.
func WriteErr(err error) error {
	return &storageError{op: "write", err: err}
}

// storageError annotates an underlying storage failure with the operation
// that produced it.
type storageError struct {
	op  string
	err error
}

// Error returns a human readable description of the failure.
func (e *storageError) Error() string {
	return "storage " + e.op + " failed: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *storageError) Unwrap() error {
	return e.err
}

// Store is the persistence contract all wallet state is written through.
// Values are JSON encoded. Implementations over a local medium (memory,
// embedded database) are interchangeable.
//
// A write may be annotated with an expected version for optimistic
// concurrency: the store must reject the write with ErrVersionConflict if a
// version has been recorded for the key that is not strictly lower than the
// new one. Unversioned writes always overwrite.
type Store interface {
	// Get reads the value stored under key into out. ErrNotFound is
	// returned if no value is stored under the key.
	Get(key string, out any) error

	// GetAsync is the asynchronous form of Get, honoring cancellation of
	// the passed context.
	GetAsync(ctx context.Context, key string, out any) error

	// Set writes the JSON encoding of value under key, optionally fenced
	// by a version.
	Set(key string, value any, version fn.Option[uint32]) error

	// SetAsync is the asynchronous form of Set, honoring cancellation of
	// the passed context. Monitor persistence always uses this path so it
	// never blocks the calling protocol thread.
	SetAsync(ctx context.Context, key string, value any,
		version fn.Option[uint32]) error

	// Scan returns the raw values of all keys starting with prefix. If
	// suffix is non-empty, only keys also ending in suffix are returned.
	Scan(prefix, suffix string) (map[string]json.RawMessage, error)

	// Delete removes the values stored under the given keys. Deleting an
	// absent key is not an error.
	Delete(keys ...string) error
}

// matchesScan returns true if the key falls within the prefix/suffix filter
// of a Scan call.
func matchesScan(key, prefix, suffix string) bool {
	if len(key) < len(prefix)+len(suffix) {
		return false
	}
	if key[:len(prefix)] != prefix {
		return false
	}

	return suffix == "" || key[len(key)-len(suffix):] == suffix
}

// marshalValue JSON encodes a value for storage. Raw JSON values pass
// through unchanged.
func marshalValue(value any) ([]byte, error) {
	buf, err := json.Marshal(value)
	if err != nil {
		return nil, WriteErr(err)
	}

	return buf, nil
}

// unmarshalValue decodes a stored value into out, mapping decode failures to
// ErrCorruptValue.
func unmarshalValue(buf []byte, out any) error {
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}

	return nil
}
