package chanstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/emberwallet/emberd/kvstore"
	"github.com/emberwallet/emberd/vss"
)

// mockRemoteStore is an in-memory vss.Client for reconciliation tests.
type mockRemoteStore struct {
	objects map[string]vss.KeyValue
}

var _ vss.Client = (*mockRemoteStore)(nil)

func newMockRemoteStore() *mockRemoteStore {
	return &mockRemoteStore{
		objects: make(map[string]vss.KeyValue),
	}
}

func (m *mockRemoteStore) put(t *testing.T, key string, value any,
	version uint32) {

	raw, err := json.Marshal(value)
	require.NoError(t, err)

	m.objects[key] = vss.KeyValue{
		Key:     key,
		Value:   raw,
		Version: version,
	}
}

func (m *mockRemoteStore) PutObjects(_ context.Context,
	items []vss.KeyValue) error {

	for _, item := range items {
		m.objects[item.Key] = item
	}

	return nil
}

func (m *mockRemoteStore) ListKeyVersions(_ context.Context,
	prefix string) ([]vss.KeyVersion, error) {

	var kvs []vss.KeyVersion
	for key, obj := range m.objects {
		if len(prefix) > 0 && len(key) >= len(prefix) &&
			key[:len(prefix)] != prefix {

			continue
		}

		kvs = append(kvs, vss.KeyVersion{
			Key:     key,
			Version: obj.Version,
		})
	}

	return kvs, nil
}

func (m *mockRemoteStore) GetObject(_ context.Context,
	key string) (*vss.KeyValue, error) {

	obj, ok := m.objects[key]
	if !ok {
		return nil, vss.ErrObjectNotFound
	}

	return &obj, nil
}

// getJSON fetches and decodes a cache value, failing the test on error.
func getJSON[T any](t *testing.T, cache *kvstore.MemStore, key string) T {
	var out T
	require.NoError(t, cache.Get(key, &out))

	return out
}

// TestReconcileLoadLocalOnly asserts that without a remote store the cache
// is an exact replay of the local store.
func TestReconcileLoadLocalOnly(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	require.NoError(t, local.Set("some_key", "hello", fn.None[uint32]()))

	cache, err := ReconcileLoad(context.Background(), local, nil)
	require.NoError(t, err)

	require.Equal(t, "hello", getJSON[string](t, cache, "some_key"))
}

// TestReconcileMonitors asserts that channel monitors are compared by the
// update id embedded in their raw encoding and that only a strictly newer
// remote copy replaces the local one.
func TestReconcileMonitors(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	// Channel one: remote has a newer snapshot.
	staleLocal := testMonitor(5)
	rawStale, err := staleLocal.Bytes()
	require.NoError(t, err)
	keyOne := monitorKey(staleLocal.FundingOutpoint, testNodeID)
	require.NoError(t, local.Set(keyOne, rawStale, fn.None[uint32]()))

	newRemote := testMonitor(7)
	rawNew, err := newRemote.Bytes()
	require.NoError(t, err)
	remote.put(t, keyOne, rawNew, newRemote.StorageVersion())

	// Channel two: the local snapshot is newer.
	freshLocal := testMonitor(9)
	freshLocal.FundingOutpoint.Index = 1
	rawFresh, err := freshLocal.Bytes()
	require.NoError(t, err)
	keyTwo := monitorKey(freshLocal.FundingOutpoint, testNodeID)
	require.NoError(t, local.Set(keyTwo, rawFresh, fn.None[uint32]()))

	staleRemote := testMonitor(4)
	staleRemote.FundingOutpoint.Index = 1
	rawStaleRemote, err := staleRemote.Bytes()
	require.NoError(t, err)
	remote.put(t, keyTwo, rawStaleRemote, staleRemote.StorageVersion())

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)

	require.Equal(t, rawNew, getJSON[[]byte](t, cache, keyOne))
	require.Equal(t, rawFresh, getJSON[[]byte](t, cache, keyTwo))
}

// TestReconcileMonitorAbsentLocal asserts that a monitor only the remote
// store knows about is taken unconditionally.
func TestReconcileMonitorAbsentLocal(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	monitor := testMonitor(3)
	raw, err := monitor.Bytes()
	require.NoError(t, err)
	key := monitorKey(monitor.FundingOutpoint, testNodeID)
	remote.put(t, key, raw, monitor.StorageVersion())

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)

	require.Equal(t, raw, getJSON[[]byte](t, cache, key))
}

// TestReconcileMonitorBadRemote asserts that an undecodable remote monitor
// never replaces a healthy local one.
func TestReconcileMonitorBadRemote(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	monitor := testMonitor(5)
	raw, err := monitor.Bytes()
	require.NoError(t, err)
	key := monitorKey(monitor.FundingOutpoint, testNodeID)
	require.NoError(t, local.Set(key, raw, fn.None[uint32]()))

	// The remote claims a higher version but its payload is garbage.
	remote.put(t, key, []byte{0x01, 0x02}, 100)

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)

	require.Equal(t, raw, getJSON[[]byte](t, cache, key))
}

// TestReconcileManager asserts that channel manager snapshots are compared
// by their envelope version.
func TestReconcileManager(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	key := nodeKey(ChannelManagerKey, testNodeID)

	localEnvelope := managerEnvelope(t, 3, 30)
	require.NoError(t, local.Set(key, localEnvelope, fn.None[uint32]()))

	remoteEnvelope := managerEnvelope(t, 5, 50)
	remote.put(t, key, remoteEnvelope, remoteEnvelope.Version)

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)

	got := getJSON[VersionedValue](t, cache, key)
	require.Equal(t, uint32(5), got.Version)

	state, err := decodeManagerEnvelope(&got)
	require.NoError(t, err)
	require.Equal(t, uint32(50), state.BestBlockHeight)
}

// TestReconcileManagerStaleRemote asserts that a remote manager snapshot at
// or below the local version is ignored.
func TestReconcileManagerStaleRemote(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	key := nodeKey(ChannelManagerKey, testNodeID)

	localEnvelope := managerEnvelope(t, 5, 50)
	require.NoError(t, local.Set(key, localEnvelope, fn.None[uint32]()))

	remoteEnvelope := managerEnvelope(t, 5, 99)
	remote.put(t, key, remoteEnvelope, remoteEnvelope.Version)

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)

	got := getJSON[VersionedValue](t, cache, key)
	state, err := decodeManagerEnvelope(&got)
	require.NoError(t, err)
	require.Equal(t, uint32(50), state.BestBlockHeight)
}

// TestReconcileNodeList asserts that the node list is compared by its
// embedded version counter rather than the remote listing version.
func TestReconcileNodeList(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	localList := NodeList{
		Version: 8,
		Nodes:   map[string]NodeInfo{"a": {ChildIndex: 0}},
	}
	require.NoError(t, local.Set(NodesKey, localList, fn.None[uint32]()))

	// The remote listing version is higher, but the embedded counter is
	// older, so the local list must stand.
	remote.put(t, NodesKey, NodeList{
		Version: 6,
		Nodes:   map[string]NodeInfo{"a": {ChildIndex: 0}},
	}, 100)

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)
	require.Equal(
		t, localList, getJSON[NodeList](t, cache, NodesKey),
	)

	// A genuinely newer remote list wins.
	newerList := NodeList{
		Version: 9,
		Nodes: map[string]NodeInfo{
			"a": {ChildIndex: 0},
			"b": {ChildIndex: 1},
		},
	}
	remote.put(t, NodesKey, newerList, 101)

	cache, err = ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)
	require.Equal(
		t, newerList, getJSON[NodeList](t, cache, NodesKey),
	)
}

// TestReconcileDeviceLock asserts that device locks are compared by their
// lock timestamp.
func TestReconcileDeviceLock(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	localLock := DeviceLock{Time: 200, Device: "phone"}
	require.NoError(t, local.Set(
		DeviceLockKey, localLock, fn.None[uint32](),
	))

	remote.put(t, DeviceLockKey, DeviceLock{
		Time:   300,
		Device: "laptop",
	}, 1)

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)

	got := getJSON[DeviceLock](t, cache, DeviceLockKey)
	require.Equal(t, "laptop", got.Device)
}

// TestReconcileUnversionedCategory asserts that key categories without a
// comparable version never take the remote copy over an existing local
// one, but do take a remote copy of a key absent locally.
func TestReconcileUnversionedCategory(t *testing.T) {
	t.Parallel()

	local := kvstore.NewMemStore()
	remote := newMockRemoteStore()

	var hash [32]byte
	localKey := nodeKey(paymentKey(true, hash), testNodeID)
	require.NoError(t, local.Set(
		localKey, PaymentRecord{Status: HTLCSucceeded},
		fn.None[uint32](),
	))
	remote.put(t, localKey, PaymentRecord{Status: HTLCFailed}, 50)

	hash[0] = 1
	remoteOnlyKey := nodeKey(paymentKey(true, hash), testNodeID)
	remote.put(t, remoteOnlyKey, PaymentRecord{Status: HTLCPending}, 1)

	cache, err := ReconcileLoad(context.Background(), local, remote)
	require.NoError(t, err)

	require.Equal(
		t, HTLCSucceeded,
		getJSON[PaymentRecord](t, cache, localKey).Status,
	)
	require.Equal(
		t, HTLCPending,
		getJSON[PaymentRecord](t, cache, remoteOnlyKey).Status,
	)
}

// managerEnvelope builds a versioned manager envelope at the given version
// and block height.
func managerEnvelope(t *testing.T, version uint32,
	height uint32) VersionedValue {

	raw, err := testManagerState(height).Bytes()
	require.NoError(t, err)

	value, err := json.Marshal(hex.EncodeToString(raw))
	require.NoError(t, err)

	return VersionedValue{
		Version: version,
		Value:   value,
	}
}
