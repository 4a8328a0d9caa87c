package chanstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"github.com/emberwallet/emberd/chanstate"
	"github.com/emberwallet/emberd/kvstore"
)

// mockManagerSource hands out canned snapshots and counts how often it is
// asked.
type mockManagerSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockManagerSource) CurrentState() (*chanstate.ManagerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	return testManagerState(uint32(m.calls)), nil
}

func (m *mockManagerSource) numCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// TestManagerCheckpointer asserts that each tick persists a snapshot under
// the next version and that a failing source only skips that checkpoint.
func TestManagerCheckpointer(t *testing.T) {
	t.Parallel()

	store := kvstore.NewMemStore()
	persister := NewNodePersister(&PersisterConfig{
		NodeID: testNodeID,
		Store:  store,
	})
	defer persister.Stop()

	source := &mockManagerSource{}
	force := ticker.NewForce(time.Hour)

	checkpointer := NewManagerCheckpointer(&CheckpointerConfig{
		Persister: persister,
		Source:    source,
		Ticker:    force,
	})
	require.NoError(t, checkpointer.Start())
	defer func() {
		require.NoError(t, checkpointer.Stop())
	}()

	// Two forced ticks produce two stored versions.
	force.Force <- time.Now()
	force.Force <- time.Now()

	key := nodeKey(ChannelManagerKey, testNodeID)
	require.Eventually(t, func() bool {
		var envelope VersionedValue
		if err := store.Get(key, &envelope); err != nil {
			return false
		}

		return envelope.Version == 2
	}, defaultTimeout, 10*time.Millisecond)

	// A failing snapshot source must not stop the loop. Wait for the
	// loop to have observed the failing tick before restoring the
	// source, so the error cannot be cleared out from under it.
	source.mu.Lock()
	source.err = errors.New("engine busy")
	source.mu.Unlock()
	force.Force <- time.Now()

	require.Eventually(t, func() bool {
		return source.numCalls() == 3
	}, defaultTimeout, 10*time.Millisecond)

	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()
	force.Force <- time.Now()

	require.Eventually(t, func() bool {
		var envelope VersionedValue
		if err := store.Get(key, &envelope); err != nil {
			return false
		}

		return envelope.Version == 3
	}, defaultTimeout, 10*time.Millisecond)
}
