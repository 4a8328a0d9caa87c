package chanstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"

	"github.com/emberwallet/emberd/chanstate"
	"github.com/emberwallet/emberd/kvstore"
	"github.com/emberwallet/emberd/vss"
)

// reconcileConcurrency caps the number of remote object fetches that run
// in parallel during a reconciled load.
const reconcileConcurrency = 10

// reconcileResult is the outcome of reconciling one key: the value to
// place in the cache and, where one is known, its storage version. A nil
// result means the local value stands.
type reconcileResult struct {
	key     string
	value   json.RawMessage
	version fn.Option[uint32]
}

// ReconcileLoad builds the in-memory working set of the wallet by merging
// the local store with the remote versioned store, keeping the newer side
// of every conflicting key. The remote side never deletes local state: keys
// the remote does not know about are loaded from local storage as-is.
//
// The returned MemStore is intended to serve as the cache layer of a
// CachedStore wrapping the local store.
func ReconcileLoad(ctx context.Context, local kvstore.Store,
	remote vss.Client) (*kvstore.MemStore, error) {

	cache := kvstore.NewMemStore()

	localValues, err := local.Scan("", "")
	if err != nil {
		return nil, err
	}
	for key, value := range localValues {
		err := cache.Set(key, value, fn.None[uint32]())
		if err != nil {
			return nil, err
		}
	}

	// Without a remote store the local state is all there is.
	if remote == nil {
		return cache, nil
	}

	log.Debugf("Reconciling %d local key(s) against remote store",
		len(localValues))

	remoteKeys, err := remote.ListKeyVersions(ctx, "")
	if err != nil {
		return nil, err
	}

	// Reconcile every remote key concurrently. Each slot of the results
	// slice is owned by exactly one goroutine.
	results := make([]*reconcileResult, len(remoteKeys))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(reconcileConcurrency)
	for i, kv := range remoteKeys {
		eg.Go(func() error {
			result, err := reconcileKey(
				egCtx, remote, kv, localValues[kv.Key],
			)
			if err != nil {
				return err
			}

			results[i] = result
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, result := range results {
		if result == nil {
			continue
		}

		log.Debugf("Taking remote value for key %v", result.key)
		err := cache.Set(result.key, result.value, result.version)
		if err != nil {
			return nil, err
		}
	}

	return cache, nil
}

// reconcileKey decides whether the remote copy of a single key supersedes
// the local one. Only key categories that carry a comparable version are
// ever taken from remote; for everything else the local value always
// stands. A remote value that does not decode is dropped in favor of the
// local one, since overwriting good local state with an unreadable blob
// loses data for nothing.
func reconcileKey(ctx context.Context, remote vss.Client, kv vss.KeyVersion,
	localRaw json.RawMessage) (*reconcileResult, error) {

	switch {
	case strings.HasPrefix(kv.Key, NodesKey):
		return reconcileNodes(ctx, remote, kv, localRaw)

	case strings.HasPrefix(kv.Key, DeviceLockKey):
		return reconcileDeviceLock(ctx, remote, kv, localRaw)

	case strings.HasPrefix(kv.Key, MonitorsPrefix):
		return reconcileMonitor(ctx, remote, kv, localRaw)

	case strings.HasPrefix(kv.Key, ChannelManagerKey):
		return reconcileManager(ctx, remote, kv, localRaw)

	// Every other key category carries no comparable version, so an
	// existing local copy always stands. Only a key absent locally is
	// taken from remote.
	default:
		if localRaw != nil {
			return nil, nil
		}

		obj, err := fetchRemote(ctx, remote, kv.Key)
		if err != nil || obj == nil {
			return nil, err
		}

		return &reconcileResult{
			key:     kv.Key,
			value:   obj.Value,
			version: fn.None[uint32](),
		}, nil
	}
}

// reconcileNodes compares node lists by their embedded version counter.
func reconcileNodes(ctx context.Context, remote vss.Client,
	kv vss.KeyVersion, localRaw json.RawMessage) (*reconcileResult,
	error) {

	// The remote listing version of the node list is not meaningful, so
	// the embedded counter decides.
	obj, err := fetchRemote(ctx, remote, kv.Key)
	if err != nil || obj == nil {
		return nil, err
	}

	var remoteList NodeList
	if err := json.Unmarshal(obj.Value, &remoteList); err != nil {
		log.Warnf("Dropping undecodable remote node list %v: %v",
			kv.Key, err)
		return nil, nil
	}

	if localRaw != nil {
		var localList NodeList
		if err := json.Unmarshal(localRaw, &localList); err == nil &&
			localList.Version >= remoteList.Version {

			return nil, nil
		}
	}

	return &reconcileResult{
		key:     kv.Key,
		value:   obj.Value,
		version: fn.None[uint32](),
	}, nil
}

// reconcileDeviceLock compares device locks by their lock timestamp.
func reconcileDeviceLock(ctx context.Context, remote vss.Client,
	kv vss.KeyVersion, localRaw json.RawMessage) (*reconcileResult,
	error) {

	obj, err := fetchRemote(ctx, remote, kv.Key)
	if err != nil || obj == nil {
		return nil, err
	}

	var remoteLock DeviceLock
	if err := json.Unmarshal(obj.Value, &remoteLock); err != nil {
		log.Warnf("Dropping undecodable remote device lock %v: %v",
			kv.Key, err)
		return nil, nil
	}

	if localRaw != nil {
		var localLock DeviceLock
		if err := json.Unmarshal(localRaw, &localLock); err == nil &&
			localLock.Time >= remoteLock.Time {

			return nil, nil
		}
	}

	return &reconcileResult{
		key:     kv.Key,
		value:   obj.Value,
		version: fn.None[uint32](),
	}, nil
}

// reconcileMonitor compares channel monitors by the update id embedded in
// their raw encoding. The listing version is only a saturated projection of
// the update id, so the raw encoding is the authority on both sides.
func reconcileMonitor(ctx context.Context, remote vss.Client,
	kv vss.KeyVersion, localRaw json.RawMessage) (*reconcileResult,
	error) {

	// Decode the local monitor's update id first. A missing or
	// unreadable local copy counts as update id zero, which any remote
	// copy beats.
	var localID uint64
	if localRaw != nil {
		var raw []byte
		if err := json.Unmarshal(localRaw, &raw); err == nil {
			if id, err := chanstate.MonitorVersion(raw); err == nil {
				localID = id
			}
		}
	}

	// The saturated listing version is a cheap lower-bound check that
	// avoids fetching monitors that cannot possibly be newer.
	localVersion := chanstate.SaturateVersion(localID)
	if localRaw != nil && kv.Version < localVersion {
		return nil, nil
	}

	obj, err := fetchRemote(ctx, remote, kv.Key)
	if err != nil || obj == nil {
		return nil, err
	}

	var remoteBytes []byte
	if err := json.Unmarshal(obj.Value, &remoteBytes); err != nil {
		log.Warnf("Dropping undecodable remote monitor %v: %v",
			kv.Key, err)
		return nil, nil
	}

	remoteID, err := chanstate.MonitorVersion(remoteBytes)
	if err != nil {
		log.Warnf("Dropping malformed remote monitor %v: %v",
			kv.Key, err)
		return nil, nil
	}

	if localRaw != nil && localID >= remoteID {
		return nil, nil
	}

	return &reconcileResult{
		key:     kv.Key,
		value:   obj.Value,
		version: fn.Some(chanstate.SaturateVersion(remoteID)),
	}, nil
}

// reconcileManager compares channel manager snapshots by their envelope
// version.
func reconcileManager(ctx context.Context, remote vss.Client,
	kv vss.KeyVersion, localRaw json.RawMessage) (*reconcileResult,
	error) {

	// An unreadable local envelope counts as version zero so that a
	// healthy remote snapshot can replace it.
	var localVersion uint32
	if localRaw != nil {
		var envelope VersionedValue
		if err := json.Unmarshal(localRaw, &envelope); err == nil {
			localVersion = envelope.Version
		}
	}

	if localRaw != nil && kv.Version <= localVersion {
		return nil, nil
	}

	obj, err := fetchRemote(ctx, remote, kv.Key)
	if err != nil || obj == nil {
		return nil, err
	}

	// Only take the remote copy if it actually parses as a manager
	// snapshot. The manager is the one record the wallet cannot start
	// without, so it gets validated up front.
	var envelope VersionedValue
	if err := json.Unmarshal(obj.Value, &envelope); err != nil {
		log.Warnf("Dropping undecodable remote manager %v: %v",
			kv.Key, err)
		return nil, nil
	}
	if _, err := decodeManagerEnvelope(&envelope); err != nil {
		log.Warnf("Dropping malformed remote manager %v: %v",
			kv.Key, err)
		return nil, nil
	}

	return &reconcileResult{
		key:     kv.Key,
		value:   obj.Value,
		version: fn.Some(envelope.Version),
	}, nil
}

// fetchRemote fetches one object from the remote store. A key that was
// listed but has since disappeared is not an error, just nothing to take.
func fetchRemote(ctx context.Context, remote vss.Client,
	key string) (*vss.KeyValue, error) {

	obj, err := remote.GetObject(ctx, key)
	switch {
	case err == nil:
		return obj, nil

	// A key that was listed but has since disappeared is not an error.
	case errors.Is(err, vss.ErrObjectNotFound):
		return nil, nil

	default:
		return nil, err
	}
}
