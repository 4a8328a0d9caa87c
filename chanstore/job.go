package chanstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/emberwallet/emberd/kvstore"
	"github.com/emberwallet/emberd/vss"
)

const (
	// monitorSettleDelay is how long a persist job waits before its
	// first write attempt, giving a rapid burst of updates to the same
	// channel a chance to supersede each other in local storage.
	monitorSettleDelay = 50 * time.Millisecond

	// monitorRetryInterval is the fixed delay between persist attempts
	// of a monitor that failed to write.
	monitorRetryInterval = time.Second

	// storeWriteTimeout bounds a single write attempt against the
	// storage backends.
	storeWriteTimeout = 30 * time.Second
)

// monitorPersistJob carries one serialized monitor snapshot through the
// background persist loop until it is durably stored and acknowledged.
type monitorPersistJob struct {
	// key is the storage key of the monitor.
	key string

	// raw is the serialized monitor snapshot.
	raw []byte

	// version is the storage version of the snapshot, derived from the
	// monitor's update id.
	version uint32

	// outpoint identifies the channel towards the chain monitor.
	outpoint wire.OutPoint

	// updateID is the exact update being acknowledged once the write
	// lands.
	updateID uint64
}

// runPersistJob retries the write of a single monitor snapshot until it
// succeeds or the persister shuts down. It never gives up on its own: an
// unpersisted monitor would mean losing the ability to punish a channel
// breach, so any number of retries is cheaper than abandoning the write.
//
// NOTE: Must be run as a goroutine.
func (p *NodePersister) runPersistJob(job *monitorPersistJob) {
	defer p.wg.Done()

	// Let a burst of updates to the same channel settle before the
	// first attempt. Later snapshots overwrite earlier ones locally, so
	// waiting here coalesces the remote traffic.
	select {
	case <-p.clk.TickAfter(monitorSettleDelay):
	case <-p.quit:
		return
	}

	var isRetry bool
	for {
		err := p.writeMonitor(job, isRetry)
		if err == nil {
			log.Debugf("Persisted monitor update %d for channel "+
				"%v", job.updateID, job.outpoint)

			// Tell the chain monitor the update is durable. A
			// failed notification is not retried: the snapshot
			// itself is safely stored, and the next update will
			// carry a fresh acknowledgment.
			p.chainMon().WhenSome(func(cm ChainMonitor) {
				err := cm.MonitorUpdated(
					job.outpoint, job.updateID,
				)
				if err != nil {
					log.Errorf("Unable to acknowledge "+
						"monitor update %d for "+
						"channel %v: %v",
						job.updateID, job.outpoint,
						err)
				}
			})

			return
		}

		log.Errorf("Unable to persist monitor update %d for channel "+
			"%v, retrying: %v", job.updateID, job.outpoint, err)

		isRetry = true

		select {
		case <-p.clk.TickAfter(monitorRetryInterval):
		case <-p.quit:
			return
		}
	}
}

// writeMonitor performs one write attempt of the job's snapshot. The first
// attempt writes both local and remote storage. With a remote store
// configured, retries target it exclusively: it rejects stale versions
// instead of silently overwriting, so blind retries are safe, and the
// local write either already landed or lost to a newer snapshot. Without a
// remote store, retries keep targeting the local store, whose writes are
// version fenced as well.
func (p *NodePersister) writeMonitor(job *monitorPersistJob,
	retryOnly bool) error {

	ctx, cancel := context.WithTimeout(
		context.Background(), storeWriteTimeout,
	)
	defer cancel()

	if retryOnly && p.remote != nil {
		return p.putRemote(ctx, job)
	}

	err := p.store.SetAsync(ctx, job.key, job.raw, fn.Some(job.version))
	switch {
	// A newer snapshot of the same channel already landed locally, which
	// supersedes this one. That still counts as this write being done.
	case errors.Is(err, kvstore.ErrVersionConflict):

	case err != nil:
		return err
	}

	if p.remote == nil {
		return nil
	}

	return p.putRemote(ctx, job)
}

// putRemote mirrors the snapshot to the remote versioned store. A stale
// version rejection means a newer snapshot already landed remotely and is
// treated as success, which is what makes blind retries safe.
func (p *NodePersister) putRemote(ctx context.Context,
	job *monitorPersistJob) error {

	value, err := json.Marshal(job.raw)
	if err != nil {
		return err
	}

	err = p.remote.PutObjects(ctx, []vss.KeyValue{{
		Key:     job.key,
		Value:   value,
		Version: job.version,
	}})
	if errors.Is(err, vss.ErrStaleVersion) {
		log.Debugf("Remote store already has monitor %v at version "+
			">= %d", job.key, job.version)
		return nil
	}

	return err
}
