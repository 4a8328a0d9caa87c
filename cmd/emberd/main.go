package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/emberwallet/emberd/build"
	"github.com/emberwallet/emberd/chanstate"
	"github.com/emberwallet/emberd/chanstore"
	"github.com/emberwallet/emberd/kvstore"
	"github.com/emberwallet/emberd/signal"
	"github.com/emberwallet/emberd/vss"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires the daemon together and blocks until shutdown.
func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Logging comes up first so every later failure is recorded.
	rotator := build.NewRotatingLogWriter()
	var handlers []btclog.Handler
	consoleHandler, fileHandler := build.NewDefaultLoggers(
		cfg.Logging, rotator,
	)
	if !cfg.Logging.Console.Disable {
		handlers = append(handlers, consoleHandler)
	}
	if !cfg.Logging.File.Disable {
		err := rotator.InitLogRotator(
			cfg.Logging.File, cfg.logFilePath(),
		)
		if err != nil {
			return fmt.Errorf("unable to initialize log "+
				"rotation: %w", err)
		}
		defer func() {
			_ = rotator.Close()
		}()

		handlers = append(handlers, fileHandler)
	}

	logMgr := build.NewSubLoggerManager(handlers...)
	setupLoggers(logMgr)
	if err := build.ParseAndSetDebugLevels(cfg.DebugLevel, logMgr); err != nil {
		return err
	}

	log.Infof("Starting emberd on %v for node %v", cfg.Network,
		cfg.NodeID)

	ctx := context.Background()

	boltStore, err := kvstore.OpenBoltStore(cfg.dbPath())
	if err != nil {
		return fmt.Errorf("unable to open wallet store: %w", err)
	}
	defer func() {
		_ = boltStore.Close()
	}()

	var remote vss.Client
	if cfg.Remote.Endpoint != "" {
		httpClient, err := vss.NewHTTPClient(
			cfg.Remote.Endpoint, cfg.Remote.StoreID,
			cfg.Remote.Token,
		)
		if err != nil {
			return err
		}
		remote = httpClient

		log.Infof("Remote versioned store enabled at %v",
			cfg.Remote.Endpoint)
	}

	// Merge local and remote state into the in-memory working set, then
	// serve all reads from it with writes passing through to disk.
	cache, err := chanstore.ReconcileLoad(ctx, boltStore, remote)
	if err != nil {
		return fmt.Errorf("unable to reconcile wallet state: %w", err)
	}
	store := kvstore.NewCachedStore(cache, boltStore)

	persister := chanstore.NewNodePersister(&chanstore.PersisterConfig{
		NodeID: cfg.NodeID,
		Store:  store,
		Remote: remote,
	})
	defer persister.Stop()

	monitors, err := persister.ReadChannelMonitors()
	if err != nil {
		return fmt.Errorf("unable to load channel monitors: %w", err)
	}
	result, err := persister.ReadChannelManager(
		ctx, cfg.netParams, nil, monitors,
	)
	if err != nil {
		return fmt.Errorf("unable to load channel manager: %w", err)
	}

	log.Infof("Loaded channel manager version %d at height %d "+
		"(restarting=%v) with %d monitor(s)",
		persister.ManagerVersion(), result.State.BestBlockHeight,
		result.IsRestarting, len(result.Monitors))

	engine := newStateHolder(result.State)
	checkpointer := chanstore.NewManagerCheckpointer(
		&chanstore.CheckpointerConfig{
			Persister: persister,
			Source:    engine,
			Ticker:    ticker.New(cfg.CheckpointInterval),
		},
	)
	if err := checkpointer.Start(); err != nil {
		return err
	}
	defer func() {
		_ = checkpointer.Stop()
	}()

	// Watch remote store reachability and shut the daemon down if it
	// stays unreachable, since running blind on local state only should
	// be a deliberate choice rather than a silent degradation.
	if remote != nil && cfg.Remote.CheckAttempts > 0 {
		remoteCheck := healthcheck.NewObservation(
			"remote versioned store",
			func() error {
				checkCtx, cancel := context.WithTimeout(
					ctx, cfg.Remote.CheckTimeout,
				)
				defer cancel()

				_, err := remote.ListKeyVersions(
					checkCtx, chanstore.ChannelManagerKey,
				)
				return err
			},
			cfg.Remote.CheckInterval,
			cfg.Remote.CheckTimeout,
			cfg.Remote.CheckBackoff,
			cfg.Remote.CheckAttempts,
		)

		healthMonitor := healthcheck.NewMonitor(&healthcheck.Config{
			Checks: []*healthcheck.Observation{remoteCheck},
			Shutdown: func(format string,
				params ...interface{}) {

				log.Criticalf(format, params...)
			},
		})
		if err := healthMonitor.Start(); err != nil {
			return err
		}
		defer func() {
			_ = healthMonitor.Stop()
		}()
	}

	<-signal.ShutdownChannel()
	log.Infof("Shutdown complete")

	return nil
}

// stateHolder serves the most recently loaded manager snapshot to the
// checkpoint loop. A protocol engine embedding this daemon swaps in live
// state via Update as channels change.
type stateHolder struct {
	mu    sync.Mutex
	state *chanstate.ManagerState
}

func newStateHolder(state *chanstate.ManagerState) *stateHolder {
	return &stateHolder{state: state}
}

// CurrentState returns the held snapshot.
func (h *stateHolder) CurrentState() (*chanstate.ManagerState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state, nil
}

// Update replaces the held snapshot.
func (h *stateHolder) Update(state *chanstate.ManagerState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = state
}
