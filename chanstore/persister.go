package chanstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/emberwallet/emberd/chanstate"
	"github.com/emberwallet/emberd/kvstore"
	"github.com/emberwallet/emberd/vss"
)

// PersisterConfig bundles the dependencies of a NodePersister.
type PersisterConfig struct {
	// NodeID is the identifier of the node whose state is persisted. It
	// is suffixed onto every per-node storage key.
	NodeID string

	// Store is the local storage backend.
	Store kvstore.Store

	// Remote is the optional remote versioned store. When set, monitor
	// writes are mirrored to it and it is the sole target of blind
	// retries.
	Remote vss.Client

	// Clock is the time source driving persist job delays. Defaults to
	// the wall clock when unset.
	Clock clock.Clock
}

// NodePersister orchestrates all durable writes of one node's channel
// state: channel manager snapshots, channel monitor updates and the simple
// keyed records around them.
type NodePersister struct {
	nodeID string
	store  kvstore.Store
	remote vss.Client
	clk    clock.Clock

	// managerVersion tracks the version of the last persisted channel
	// manager snapshot. It is seeded from storage on load and bumped
	// atomically on every persist call, which makes concurrent persists
	// linearizable without an external lock.
	managerVersion atomic.Uint32

	// chainMonitor is populated after construction: the chain monitor
	// itself is built around this persister, so it cannot be a
	// constructor argument.
	cmMtx        sync.Mutex
	chainMonitor fn.Option[ChainMonitor]

	wg      sync.WaitGroup
	quit    chan struct{}
	stopped sync.Once
}

// ReadManagerResult is the outcome of loading the channel manager from
// storage.
type ReadManagerResult struct {
	// State is the loaded (or freshly constructed) manager state.
	State *chanstate.ManagerState

	// IsRestarting is true if the state was read from storage rather
	// than created fresh. The caller uses this to decide whether
	// pre-existing monitors must be registered with the chain sync
	// listener.
	IsRestarting bool

	// Monitors are the channel monitors the manager was loaded with.
	Monitors []*chanstate.Monitor
}

// NewNodePersister creates a new NodePersister from the given config.
func NewNodePersister(cfg *PersisterConfig) *NodePersister {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &NodePersister{
		nodeID:       cfg.NodeID,
		store:        cfg.Store,
		remote:       cfg.Remote,
		clk:          clk,
		chainMonitor: fn.None[ChainMonitor](),
		quit:         make(chan struct{}),
	}
}

// SetChainMonitor hands the persister its chain monitor reference. Must be
// called before the first monitor update is acknowledged, which in practice
// means directly after the chain monitor is constructed.
func (p *NodePersister) SetChainMonitor(chainMon ChainMonitor) {
	p.cmMtx.Lock()
	defer p.cmMtx.Unlock()

	p.chainMonitor = fn.Some(chainMon)
}

// chainMon returns the current chain monitor reference.
func (p *NodePersister) chainMon() fn.Option[ChainMonitor] {
	p.cmMtx.Lock()
	defer p.cmMtx.Unlock()

	return p.chainMonitor
}

// ManagerVersion returns the version of the last persisted channel manager
// snapshot.
func (p *NodePersister) ManagerVersion() uint32 {
	return p.managerVersion.Load()
}

// Stop signals all in-flight persist jobs to wind down and waits for them.
// A job observes the signal at its loop boundaries only: an in-flight write
// is allowed to complete or fail first.
func (p *NodePersister) Stop() {
	p.stopped.Do(func() {
		log.Infof("NodePersister(%v) shutting down", p.nodeID)

		close(p.quit)
		p.wg.Wait()
	})
}

// nodeKey suffixes the given logical key with the persister's node id.
func (p *NodePersister) nodeKey(key string) string {
	return nodeKey(key, p.nodeID)
}

// PersistManager durably stores a snapshot of the aggregate channel manager
// state under the next snapshot version. Failures are not retried here: the
// background checkpoint loop is responsible for the next attempt at its
// next natural checkpoint.
func (p *NodePersister) PersistManager(state *chanstate.ManagerState) error {
	version := p.managerVersion.Add(1)

	raw, err := state.Bytes()
	if err != nil {
		return kvstore.WriteErr(err)
	}

	value, err := json.Marshal(hex.EncodeToString(raw))
	if err != nil {
		return kvstore.WriteErr(err)
	}

	envelope := &VersionedValue{
		Version: version,
		Value:   value,
	}

	key := p.nodeKey(ChannelManagerKey)
	if err := p.store.Set(key, envelope, fn.Some(version)); err != nil {
		return fmt.Errorf("unable to persist manager version %d: %w",
			version, err)
	}

	log.Tracef("Persisted channel manager version %d", version)

	return nil
}

// PersistNewChannel kicks off background persistence of the initial monitor
// of a new channel. It returns immediately with StatusInProgress: the
// protocol engine must never stall on storage I/O.
func (p *NodePersister) PersistNewChannel(
	monitor *chanstate.Monitor) MonitorStatus {

	return p.persistMonitor(monitor)
}

// UpdatePersistedChannel kicks off background persistence of an updated
// monitor. Like PersistNewChannel it returns immediately with
// StatusInProgress.
func (p *NodePersister) UpdatePersistedChannel(
	monitor *chanstate.Monitor) MonitorStatus {

	return p.persistMonitor(monitor)
}

// persistMonitor serializes the monitor and spawns the background job that
// guarantees its eventual durable storage.
func (p *NodePersister) persistMonitor(
	monitor *chanstate.Monitor) MonitorStatus {

	raw, err := monitor.Bytes()
	if err != nil {
		// A monitor that cannot even be serialized can never be
		// persisted, so the channel cannot safely continue.
		log.Criticalf("Unable to serialize monitor for channel %v: "+
			"%v", monitor.FundingOutpoint, err)
		return StatusUnrecoverable
	}

	job := &monitorPersistJob{
		key:      monitorKey(monitor.FundingOutpoint, p.nodeID),
		raw:      raw,
		version:  monitor.StorageVersion(),
		outpoint: monitor.FundingOutpoint,
		updateID: monitor.LatestUpdateID,
	}

	p.wg.Add(1)
	go p.runPersistJob(job)

	return StatusInProgress
}

// ReadChannelMonitors loads all monitors stored for the node, dropping the
// ones whose channel has no remaining claimable balance. A monitor that
// cannot be decoded aborts the load: silently skipping it would leave a
// channel breach undetected.
func (p *NodePersister) ReadChannelMonitors() ([]*chanstate.Monitor, error) {
	rawMonitors, err := p.store.Scan(MonitorsPrefix, p.nodeID)
	if err != nil {
		return nil, err
	}

	var monitors []*chanstate.Monitor
	for key, rawJSON := range rawMonitors {
		var raw []byte
		if err := json.Unmarshal(rawJSON, &raw); err != nil {
			return nil, fmt.Errorf("%w: monitor %v: %v",
				kvstore.ErrCorruptValue, key, err)
		}

		monitor, err := chanstate.DecodeMonitor(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: monitor %v: %v",
				kvstore.ErrCorruptValue, key, err)
		}

		// A fully resolved channel no longer needs to be watched.
		if !monitor.HasClaimableBalances() {
			log.Debugf("Not watching fully resolved channel %v",
				monitor.FundingOutpoint)
			continue
		}

		monitors = append(monitors, monitor)
	}

	log.Infof("Loaded %d channel monitor(s) for node %v", len(monitors),
		p.nodeID)

	return monitors, nil
}

// ReadChannelManager loads the channel manager from storage. When nothing
// is stored yet, a fresh manager anchored at the current chain tip is
// returned instead (anchored at genesis on regtest so tests need no chain
// backend). A structurally failed versioned read falls back to the legacy
// unversioned encoding for backward compatibility.
func (p *NodePersister) ReadChannelManager(ctx context.Context,
	params *chaincfg.Params, chain chanstate.ChainSource,
	monitors []*chanstate.Monitor) (*ReadManagerResult, error) {

	log.Debugf("Reading channel manager from storage")

	key := p.nodeKey(ChannelManagerKey)

	var envelope VersionedValue
	err := p.store.Get(key, &envelope)
	switch {
	case err == nil:
		state, err := decodeManagerEnvelope(&envelope)
		if err != nil {
			return nil, err
		}

		p.managerVersion.Store(envelope.Version)

		return &ReadManagerResult{
			State:        state,
			IsRestarting: true,
			Monitors:     monitors,
		}, nil

	// Nothing is stored for this node yet, so we start from scratch at
	// the current chain tip.
	case errors.Is(err, kvstore.ErrNotFound):
		state, err := p.freshManager(ctx, params, chain)
		if err != nil {
			return nil, err
		}

		return &ReadManagerResult{
			State:        state,
			IsRestarting: false,
			Monitors:     monitors,
		}, nil

	// The stored value does not parse as a versioned envelope, which
	// means it predates the envelope format. Fall back to the legacy
	// unversioned encoding.
	case errors.Is(err, kvstore.ErrCorruptValue):
		log.Infof("Channel manager stored in legacy format, " +
			"upgrading on next persist")

		var raw []byte
		if err := p.store.Get(key, &raw); err != nil {
			return nil, err
		}

		state, err := chanstate.DecodeManagerState(
			bytes.NewReader(raw),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: legacy manager: %v",
				kvstore.ErrCorruptValue, err)
		}

		return &ReadManagerResult{
			State:        state,
			IsRestarting: true,
			Monitors:     monitors,
		}, nil

	default:
		return nil, err
	}
}

// freshManager constructs a new manager state at the current chain tip.
func (p *NodePersister) freshManager(ctx context.Context,
	params *chaincfg.Params,
	chain chanstate.ChainSource) (*chanstate.ManagerState, error) {

	// On regtest the genesis block stands in for the chain tip, which
	// also lets tests run without a chain backend.
	if params.Net == chaincfg.RegressionNetParams.Net {
		return chanstate.NewManagerState(params, *params.GenesisHash, 0),
			nil
	}

	if chain == nil {
		return nil, fmt.Errorf("a chain source is required to " +
			"create a new channel manager")
	}

	tip, height, err := chain.BestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch chain tip for new "+
			"channel manager: %w", err)
	}

	return chanstate.NewManagerState(params, *tip, height), nil
}

// decodeManagerEnvelope unpacks the hex encoded manager state carried in a
// versioned envelope.
func decodeManagerEnvelope(
	envelope *VersionedValue) (*chanstate.ManagerState, error) {

	var rawHex string
	if err := json.Unmarshal(envelope.Value, &rawHex); err != nil {
		return nil, fmt.Errorf("%w: manager envelope: %v",
			kvstore.ErrCorruptValue, err)
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: manager payload: %v",
			kvstore.ErrCorruptValue, err)
	}

	state, err := chanstate.DecodeManagerState(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: manager state: %v",
			kvstore.ErrCorruptValue, err)
	}

	return state, nil
}

// PersistPaymentInfo stores a payment record under its payment hash,
// overwriting any prior state.
func (p *NodePersister) PersistPaymentInfo(paymentHash [32]byte,
	record *PaymentRecord, inbound bool) error {

	key := p.nodeKey(paymentKey(inbound, paymentHash))

	return p.store.Set(key, record, fn.None[uint32]())
}

// ReadPaymentInfo fetches the payment record stored under the given payment
// hash, or nil if none is stored.
func (p *NodePersister) ReadPaymentInfo(paymentHash [32]byte,
	inbound bool) *PaymentRecord {

	key := p.nodeKey(paymentKey(inbound, paymentHash))
	log.Tracef("Checking payment key: %v", key)

	var record PaymentRecord
	if err := p.store.Get(key, &record); err != nil {
		return nil
	}

	return &record
}

// ListPaymentInfo returns all payment records of the given direction along
// with their payment hashes.
func (p *NodePersister) ListPaymentInfo(inbound bool) ([]PaymentEntry,
	error) {

	prefix := PaymentOutboundPrefix
	if inbound {
		prefix = PaymentInboundPrefix
	}
	suffix := "_" + p.nodeID

	rawRecords, err := p.store.Scan(prefix, suffix)
	if err != nil {
		return nil, err
	}

	entries := make([]PaymentEntry, 0, len(rawRecords))
	for key, rawJSON := range rawRecords {
		hashHex := strings.TrimSuffix(
			strings.TrimPrefix(key, prefix), suffix,
		)
		hashBytes, err := hex.DecodeString(hashHex)
		if err != nil || len(hashBytes) != 32 {
			return nil, fmt.Errorf("%w: malformed payment key "+
				"%v", kvstore.ErrCorruptValue, key)
		}

		var record PaymentRecord
		if err := json.Unmarshal(rawJSON, &record); err != nil {
			return nil, fmt.Errorf("%w: payment %v: %v",
				kvstore.ErrCorruptValue, key, err)
		}

		var entry PaymentEntry
		copy(entry.Hash[:], hashBytes)
		entry.Record = &record
		entries = append(entries, entry)
	}

	return entries, nil
}

// PersistChannelClosure stores a closure record under the wallet assigned
// channel id.
func (p *NodePersister) PersistChannelClosure(userChannelID [16]byte,
	closure *ChannelClosure) error {

	key := p.nodeKey(closureKey(userChannelID))

	return p.store.Set(key, closure, fn.None[uint32]())
}

// GetChannelClosure fetches the closure record of the given channel, or nil
// if none is stored.
func (p *NodePersister) GetChannelClosure(
	userChannelID [16]byte) (*ChannelClosure, error) {

	key := p.nodeKey(closureKey(userChannelID))

	var closure ChannelClosure
	err := p.store.Get(key, &closure)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return nil, nil

	case err != nil:
		return nil, err
	}

	return &closure, nil
}

// ListChannelClosures returns all closure records of the node.
func (p *NodePersister) ListChannelClosures() ([]ClosureEntry, error) {
	suffix := "_" + p.nodeID

	rawRecords, err := p.store.Scan(ChannelClosurePrefix, suffix)
	if err != nil {
		return nil, err
	}

	entries := make([]ClosureEntry, 0, len(rawRecords))
	for key, rawJSON := range rawRecords {
		idHex := strings.TrimSuffix(
			strings.TrimPrefix(key, ChannelClosurePrefix), suffix,
		)
		idBytes, err := hex.DecodeString(idHex)
		if err != nil || len(idBytes) != 16 {
			return nil, fmt.Errorf("%w: malformed closure key "+
				"%v", kvstore.ErrCorruptValue, key)
		}

		var closure ChannelClosure
		if err := json.Unmarshal(rawJSON, &closure); err != nil {
			return nil, fmt.Errorf("%w: closure %v: %v",
				kvstore.ErrCorruptValue, key, err)
		}

		var entry ClosureEntry
		copy(entry.UserChannelID[:], idBytes)
		entry.Closure = &closure
		entries = append(entries, entry)
	}

	return entries, nil
}

// PersistChannelOpenParams stores the funding parameters of an in-flight
// channel open.
func (p *NodePersister) PersistChannelOpenParams(id uint64,
	params *ChannelOpenParams) error {

	return p.store.Set(
		p.nodeKey(openParamsKey(id)), params, fn.None[uint32](),
	)
}

// GetChannelOpenParams fetches the funding parameters of an in-flight
// channel open, or nil if none are stored.
func (p *NodePersister) GetChannelOpenParams(id uint64) (*ChannelOpenParams,
	error) {

	var params ChannelOpenParams
	err := p.store.Get(p.nodeKey(openParamsKey(id)), &params)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return nil, nil

	case err != nil:
		return nil, err
	}

	return &params, nil
}

// DeleteChannelOpenParams removes the funding parameters of a completed or
// abandoned channel open.
func (p *NodePersister) DeleteChannelOpenParams(id uint64) error {
	return p.store.Delete(p.nodeKey(openParamsKey(id)))
}

// PersistFailedSpendableOutputs records output descriptors whose sweep
// failed so they can be retried later. Previously recorded descriptors are
// never dropped.
func (p *NodePersister) PersistFailedSpendableOutputs(
	failed []*chanstate.SpendableOutput) error {

	key := p.nodeKey(FailedSpendableOutputsKey)

	// Fetch what has been recorded so far. An absent record simply means
	// nothing has failed yet.
	var descriptors []string
	err := p.store.Get(key, &descriptors)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return err
	}

	for _, output := range failed {
		raw, err := output.Bytes()
		if err != nil {
			return kvstore.WriteErr(err)
		}
		descriptors = append(descriptors, hex.EncodeToString(raw))
	}

	return p.store.Set(key, descriptors, fn.None[uint32]())
}

// SetFailedSpendableOutputs unconditionally replaces the recorded set of
// failed output descriptors.
func (p *NodePersister) SetFailedSpendableOutputs(
	outputs []*chanstate.SpendableOutput) error {

	descriptors := make([]string, 0, len(outputs))
	for _, output := range outputs {
		raw, err := output.Bytes()
		if err != nil {
			return kvstore.WriteErr(err)
		}
		descriptors = append(descriptors, hex.EncodeToString(raw))
	}

	key := p.nodeKey(FailedSpendableOutputsKey)

	return p.store.Set(key, descriptors, fn.None[uint32]())
}

// GetFailedSpendableOutputs returns all recorded failed output descriptors.
func (p *NodePersister) GetFailedSpendableOutputs() (
	[]*chanstate.SpendableOutput, error) {

	key := p.nodeKey(FailedSpendableOutputsKey)

	var descriptors []string
	err := p.store.Get(key, &descriptors)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, err
	}

	outputs := make([]*chanstate.SpendableOutput, 0, len(descriptors))
	for _, descriptor := range descriptors {
		raw, err := hex.DecodeString(descriptor)
		if err != nil {
			return nil, fmt.Errorf("%w: descriptor %v",
				kvstore.ErrCorruptValue, descriptor)
		}

		output, err := chanstate.DecodeSpendableOutput(
			bytes.NewReader(raw),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: descriptor %v: %v",
				kvstore.ErrCorruptValue, descriptor, err)
		}

		outputs = append(outputs, output)
	}

	return outputs, nil
}

// ClearFailedSpendableOutputs deletes the recorded set of failed output
// descriptors once all of them have been successfully spent.
func (p *NodePersister) ClearFailedSpendableOutputs() error {
	return p.store.Delete(p.nodeKey(FailedSpendableOutputsKey))
}
