package chanstore

import (
	"sync"

	"github.com/lightningnetwork/lnd/ticker"

	"github.com/emberwallet/emberd/chanstate"
)

// ManagerSource produces channel manager snapshots on demand.
type ManagerSource interface {
	// CurrentState returns a snapshot of the current aggregate channel
	// state.
	CurrentState() (*chanstate.ManagerState, error)
}

// CheckpointerConfig bundles the dependencies of a ManagerCheckpointer.
type CheckpointerConfig struct {
	// Persister stores the snapshots.
	Persister *NodePersister

	// Source produces the snapshots.
	Source ManagerSource

	// Ticker drives the checkpoint cadence.
	Ticker ticker.Ticker
}

// ManagerCheckpointer periodically snapshots the channel manager into
// durable storage. A failed checkpoint is not retried: the next tick will
// take a fresh snapshot anyway, and an occasional missed checkpoint only
// widens the window of state that must be replayed on restart.
type ManagerCheckpointer struct {
	started sync.Once
	stopped sync.Once

	cfg *CheckpointerConfig

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewManagerCheckpointer creates a new ManagerCheckpointer from the given
// config.
func NewManagerCheckpointer(cfg *CheckpointerConfig) *ManagerCheckpointer {
	return &ManagerCheckpointer{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Start launches the background checkpoint loop.
func (c *ManagerCheckpointer) Start() error {
	c.started.Do(func() {
		log.Infof("ManagerCheckpointer starting")

		c.cfg.Ticker.Resume()

		c.wg.Add(1)
		go c.checkpointLoop()
	})

	return nil
}

// Stop halts the checkpoint loop and waits for it to exit.
func (c *ManagerCheckpointer) Stop() error {
	c.stopped.Do(func() {
		log.Infof("ManagerCheckpointer shutting down")

		c.cfg.Ticker.Stop()
		close(c.quit)
		c.wg.Wait()
	})

	return nil
}

// checkpointLoop persists a manager snapshot on every tick until shutdown.
//
// NOTE: Must be run as a goroutine.
func (c *ManagerCheckpointer) checkpointLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cfg.Ticker.Ticks():
			if err := c.checkpoint(); err != nil {
				log.Errorf("Skipping failed manager "+
					"checkpoint: %v", err)
			}

		case <-c.quit:
			return
		}
	}
}

// checkpoint takes and persists one manager snapshot.
func (c *ManagerCheckpointer) checkpoint() error {
	state, err := c.cfg.Source.CurrentState()
	if err != nil {
		return err
	}

	if err := c.cfg.Persister.PersistManager(state); err != nil {
		return err
	}

	log.Debugf("Checkpointed channel manager at version %d",
		c.cfg.Persister.ManagerVersion())

	return nil
}
