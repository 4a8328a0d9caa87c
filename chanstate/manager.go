package chanstate

import (
	"bytes"
	"context"
	"io"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainSource delivers the current chain tip to a freshly constructed
// channel manager.
type ChainSource interface {
	// BestBlock returns the hash and height of the current chain tip.
	BestBlock(ctx context.Context) (*chainhash.Hash, uint32, error)
}

// ManagerState is the aggregate Lightning protocol state for one node: every
// open channel, pending HTLC and the chain position the state machine has
// synced to. The channel set itself is owned by the protocol engine and
// opaque to the persistence layer.
type ManagerState struct {
	// Net identifies the bitcoin network the state belongs to.
	Net wire.BitcoinNet

	// BestBlockHash is the hash of the chain tip the manager was last
	// synced against.
	BestBlockHash chainhash.Hash

	// BestBlockHeight is the height of BestBlockHash.
	BestBlockHeight uint32

	// ChannelState is the serialized aggregate channel state owned by
	// the protocol engine.
	ChannelState []byte
}

// NewManagerState constructs a fresh manager state anchored at the given
// chain tip.
func NewManagerState(params *chaincfg.Params, tip chainhash.Hash,
	height uint32) *ManagerState {

	return &ManagerState{
		Net:             params.Net,
		BestBlockHash:   tip,
		BestBlockHeight: height,
	}
}

// Encode serializes the manager state into the passed io.Writer.
func (m *ManagerState) Encode(w io.Writer) error {
	return WriteElements(
		w, uint32(m.Net), m.BestBlockHash, m.BestBlockHeight,
		m.ChannelState,
	)
}

// DecodeManagerState deserializes a manager state from the passed io.Reader.
func DecodeManagerState(r io.Reader) (*ManagerState, error) {
	var (
		m   ManagerState
		net uint32
	)
	err := ReadElements(
		r, &net, &m.BestBlockHash, &m.BestBlockHeight, &m.ChannelState,
	)
	if err != nil {
		return nil, err
	}
	m.Net = wire.BitcoinNet(net)

	return &m, nil
}

// Bytes returns the full serialization of the manager state.
func (m *ManagerState) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
